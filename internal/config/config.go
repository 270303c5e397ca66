// Package config provides configuration for the boardroom processor.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the processor configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	InternalPort int

	// Database
	DatabaseURL string

	// Consumer pool
	WorkerCount      int
	BatchSize        int
	ClaimLease       time.Duration
	PollInterval     time.Duration
	MaxRetryAttempts int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxInFlightRooms int

	// Stream gateway
	MaxPendingPerRoom int64
	DedupWindow       time.Duration

	// Deliberation
	DecisionDeadline    time.Duration
	MaxDecisionDeadline time.Duration
	DefaultQuorum       int
	RoundTimeout        time.Duration
	TimerSweepInterval  time.Duration

	// Agent dispatch
	AgentTimeout            time.Duration
	AgentMaxAttempts        int
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	RosterPath              string
	LLMBaseURL              string
	LLMAPIKey               string
	LLMModel                string

	// Logging
	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"HTTP_PORT":                 8080,
	"INTERNAL_PORT":             8081,
	"DATABASE_URL":              "file:boardroom.db?cache=shared&mode=rwc",
	"WORKER_COUNT":              4,
	"BATCH_SIZE":                32,
	"CLAIM_LEASE_MS":            30000,
	"POLL_INTERVAL_MS":          250,
	"MAX_RETRY_ATTEMPTS":        5,
	"BACKOFF_BASE_MS":           500,
	"BACKOFF_CAP_MS":            30000,
	"MAX_IN_FLIGHT_ROOMS":       256,
	"MAX_PENDING_PER_ROOM":      10000,
	"DEDUP_WINDOW_MS":           24 * 60 * 60 * 1000,
	"DECISION_DEADLINE_MS":      60000,
	"MAX_DECISION_DEADLINE_MS":  7 * 24 * 60 * 60 * 1000,
	"DEFAULT_QUORUM":            2,
	"ROUND_TIMEOUT_MS":          120000,
	"TIMER_SWEEP_MS":            500,
	"AGENT_TIMEOUT_MS":          30000,
	"AGENT_MAX_ATTEMPTS":        3,
	"BREAKER_FAILURE_THRESHOLD": 5,
	"BREAKER_COOLDOWN_MS":       30000,
	"ROSTER_PATH":               "",
	"LITELLM_URL":               "http://localhost:4000",
	"LITELLM_API_KEY":           "",
	"LITELLM_MODEL":             "gpt-4o-mini",
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "text",
}

// Load loads configuration from environment variables, optionally layered
// over the file named by BOARDROOM_CONFIG.
func Load() (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("BOARDROOM_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	ms := func(key string) time.Duration {
		return time.Duration(v.GetInt64(key)) * time.Millisecond
	}
	return &Config{
		HTTPPort:                v.GetInt("HTTP_PORT"),
		InternalPort:            v.GetInt("INTERNAL_PORT"),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		WorkerCount:             v.GetInt("WORKER_COUNT"),
		BatchSize:               v.GetInt("BATCH_SIZE"),
		ClaimLease:              ms("CLAIM_LEASE_MS"),
		PollInterval:            ms("POLL_INTERVAL_MS"),
		MaxRetryAttempts:        v.GetInt("MAX_RETRY_ATTEMPTS"),
		BackoffBase:             ms("BACKOFF_BASE_MS"),
		BackoffCap:              ms("BACKOFF_CAP_MS"),
		MaxInFlightRooms:        v.GetInt("MAX_IN_FLIGHT_ROOMS"),
		MaxPendingPerRoom:       v.GetInt64("MAX_PENDING_PER_ROOM"),
		DedupWindow:             ms("DEDUP_WINDOW_MS"),
		DecisionDeadline:        ms("DECISION_DEADLINE_MS"),
		MaxDecisionDeadline:     ms("MAX_DECISION_DEADLINE_MS"),
		DefaultQuorum:           v.GetInt("DEFAULT_QUORUM"),
		RoundTimeout:            ms("ROUND_TIMEOUT_MS"),
		TimerSweepInterval:      ms("TIMER_SWEEP_MS"),
		AgentTimeout:            ms("AGENT_TIMEOUT_MS"),
		AgentMaxAttempts:        v.GetInt("AGENT_MAX_ATTEMPTS"),
		BreakerFailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		BreakerCooldown:         ms("BREAKER_COOLDOWN_MS"),
		RosterPath:              v.GetString("ROSTER_PATH"),
		LLMBaseURL:              v.GetString("LITELLM_URL"),
		LLMAPIKey:               v.GetString("LITELLM_API_KEY"),
		LLMModel:                v.GetString("LITELLM_MODEL"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		LogFormat:               v.GetString("LOG_FORMAT"),
	}
}

// Validate rejects non-positive counts and durations.
func (c *Config) Validate() error {
	positive := map[string]int64{
		"WORKER_COUNT":              int64(c.WorkerCount),
		"BATCH_SIZE":                int64(c.BatchSize),
		"CLAIM_LEASE_MS":            int64(c.ClaimLease),
		"POLL_INTERVAL_MS":          int64(c.PollInterval),
		"MAX_RETRY_ATTEMPTS":        int64(c.MaxRetryAttempts),
		"BACKOFF_BASE_MS":           int64(c.BackoffBase),
		"BACKOFF_CAP_MS":            int64(c.BackoffCap),
		"MAX_IN_FLIGHT_ROOMS":       int64(c.MaxInFlightRooms),
		"DEDUP_WINDOW_MS":           int64(c.DedupWindow),
		"DECISION_DEADLINE_MS":      int64(c.DecisionDeadline),
		"MAX_DECISION_DEADLINE_MS":  int64(c.MaxDecisionDeadline),
		"DEFAULT_QUORUM":            int64(c.DefaultQuorum),
		"ROUND_TIMEOUT_MS":          int64(c.RoundTimeout),
		"TIMER_SWEEP_MS":            int64(c.TimerSweepInterval),
		"AGENT_TIMEOUT_MS":          int64(c.AgentTimeout),
		"AGENT_MAX_ATTEMPTS":        int64(c.AgentMaxAttempts),
		"BREAKER_FAILURE_THRESHOLD": int64(c.BreakerFailureThreshold),
		"BREAKER_COOLDOWN_MS":       int64(c.BreakerCooldown),
	}
	for key, val := range positive {
		if val <= 0 {
			return fmt.Errorf("config %s must be positive", key)
		}
	}
	if c.MaxPendingPerRoom < 0 {
		return fmt.Errorf("config MAX_PENDING_PER_ROOM must not be negative")
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("config BACKOFF_CAP_MS must be at least BACKOFF_BASE_MS")
	}
	if c.DecisionDeadline > c.MaxDecisionDeadline {
		return fmt.Errorf("config DECISION_DEADLINE_MS exceeds MAX_DECISION_DEADLINE_MS")
	}
	return nil
}

// LogSummary logs the effective settings once at startup.
func (c *Config) LogSummary(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"http_port", c.HTTPPort,
		"internal_port", c.InternalPort,
		"worker_count", c.WorkerCount,
		"batch_size", c.BatchSize,
		"claim_lease", c.ClaimLease,
		"max_retry_attempts", c.MaxRetryAttempts,
		"backoff_base", c.BackoffBase,
		"backoff_cap", c.BackoffCap,
		"max_in_flight_rooms", c.MaxInFlightRooms,
		"max_pending_per_room", c.MaxPendingPerRoom,
		"dedup_window", c.DedupWindow,
		"decision_deadline", c.DecisionDeadline,
		"max_decision_deadline", c.MaxDecisionDeadline,
		"default_quorum", c.DefaultQuorum,
		"round_timeout", c.RoundTimeout,
		"agent_timeout", c.AgentTimeout,
		"agent_max_attempts", c.AgentMaxAttempts,
		"breaker_failure_threshold", c.BreakerFailureThreshold,
		"breaker_cooldown", c.BreakerCooldown,
		"roster_path", c.RosterPath,
	)
}
