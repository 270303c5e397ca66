// Package service wires the stream gateway, consumer pool, state machine and
// snapshot manager into the boardroom processor.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/PManghan91/boardroom/internal/config"
	"github.com/PManghan91/boardroom/internal/consumer"
	"github.com/PManghan91/boardroom/internal/deliberation"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/hub"
	"github.com/PManghan91/boardroom/internal/metrics"
	store "github.com/PManghan91/boardroom/internal/repository"
	"github.com/PManghan91/boardroom/internal/snapshot"
	"github.com/PManghan91/boardroom/internal/stream"
)

// Options carries the optional collaborators of a Service.
type Options struct {
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Hub receives committed snapshots for live watchers.
	Hub *hub.Hub
	// Policy admits decision proposals. Nil admits everything the voting
	// engine accepts.
	Policy deliberation.ProposalChecker
	// Agents join a session started without an explicit agent list.
	Agents []domain.Agent
}

type Service struct {
	store     store.Store
	config    *config.Config
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	hub       *hub.Hub
	gateway   *stream.Gateway
	pool      *consumer.Pool
	machine   *deliberation.Machine
	snapshots *snapshot.Manager
	arena     *snapshot.Arena
}

func New(st store.Store, invoker deliberation.Invoker, cfg *config.Config, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var publisher snapshot.Publisher
	if opts.Hub != nil {
		publisher = opts.Hub
	}
	snapshots := snapshot.NewManager(st, clk, logger.With("component", "snapshot"), opts.Metrics, publisher)

	return &Service{
		store:   st,
		config:  cfg,
		clock:   clk,
		logger:  logger,
		metrics: opts.Metrics,
		hub:     opts.Hub,
		gateway: stream.NewGateway(st, stream.Config{
			DedupWindow:       cfg.DedupWindow,
			MaxPendingPerRoom: cfg.MaxPendingPerRoom,
		}, clk, logger.With("component", "gateway"), opts.Metrics),
		pool: consumer.NewPool(st, consumer.Config{
			WorkerCount:  cfg.WorkerCount,
			BatchSize:    cfg.BatchSize,
			Lease:        cfg.ClaimLease,
			PollInterval: cfg.PollInterval,
			MaxAttempts:  cfg.MaxRetryAttempts,
			BackoffBase:  cfg.BackoffBase,
			BackoffCap:   cfg.BackoffCap,
			MaxInFlight:  cfg.MaxInFlightRooms,
		}, clk, logger.With("component", "consumer"), opts.Metrics),
		machine: deliberation.NewMachine(deliberation.Config{
			DefaultQuorum:       cfg.DefaultQuorum,
			DecisionDeadline:    cfg.DecisionDeadline,
			MaxDecisionDeadline: cfg.MaxDecisionDeadline,
			RoundTimeout:        cfg.RoundTimeout,
			DefaultAgents:       opts.Agents,
		}, invoker, opts.Policy, logger.With("component", "deliberation")),
		snapshots: snapshots,
		arena:     snapshot.NewArena(snapshots),
	}
}

// Run starts the consumer pool and the deadline monitor and blocks until ctx
// is done.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pool.Run(ctx, s, s.gateway.Wake())
	}()
	go func() {
		defer wg.Done()
		s.RunDeadlineMonitor(ctx)
	}()
	wg.Wait()
}
