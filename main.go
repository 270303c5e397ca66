package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PManghan91/boardroom/internal/adapter/agentclient"
	"github.com/PManghan91/boardroom/internal/adapter/llm"
	"github.com/PManghan91/boardroom/internal/config"
	"github.com/PManghan91/boardroom/internal/dispatcher"
	"github.com/PManghan91/boardroom/internal/hub"
	"github.com/PManghan91/boardroom/internal/logging"
	"github.com/PManghan91/boardroom/internal/metrics"
	"github.com/PManghan91/boardroom/internal/policy"
	store "github.com/PManghan91/boardroom/internal/repository"
	"github.com/PManghan91/boardroom/internal/roster"
	"github.com/PManghan91/boardroom/internal/service"
	httpserver "github.com/PManghan91/boardroom/internal/transport/http"
	"github.com/PManghan91/boardroom/internal/transport/rpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "boardroom: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	cfg.LogSummary(logger)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	m := metrics.New()

	// Agent capabilities
	r, err := roster.Load(cfg.RosterPath)
	if err != nil {
		return err
	}
	registry := dispatcher.NewRegistry()
	if err := r.Bind(registry, roster.Deps{
		Agents:       agentclient.NewClient(cfg.AgentTimeout),
		Chat:         llm.NewCompleter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.AgentTimeout, logger),
		DefaultModel: cfg.LLMModel,
	}); err != nil {
		return fmt.Errorf("failed to bind roster: %w", err)
	}
	disp := dispatcher.New(registry, dispatcher.Config{
		Timeout:          cfg.AgentTimeout,
		MaxAttempts:      cfg.AgentMaxAttempts,
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
	}, logger.With("component", "dispatcher"), m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	h := hub.New(logger.With("component", "hub"))
	go h.Run(ctx)

	svc := service.New(db, disp, cfg, service.Options{
		Logger:  logger,
		Metrics: m,
		Hub:     h,
		Policy:  policyEngine,
		Agents:  r.Agents,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	server := httpserver.NewServer(svc, h, m)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	rpcServer, err := rpc.NewServer(svc, logger.With("component", "rpc"))
	if err != nil {
		return err
	}
	go func() {
		if err := rpcServer.Start(fmt.Sprintf(":%d", cfg.InternalPort)); err != nil {
			logger.Error("rpc server failed", "error", err)
			stop()
		}
	}()

	logger.Info("boardroom started", "http_port", cfg.HTTPPort, "rpc_port", cfg.InternalPort)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc server shutdown", "error", err)
	}
	<-done
	logger.Info("boardroom stopped")
	return nil
}
