package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/metrics"
)

// Config tunes timeouts, retries and breakers.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Result is the outcome of one agent invocation.
type Result struct {
	AgentID string
	Content string
	// Degraded is set when the breaker short-circuited the call.
	Degraded bool
	// Unbound is set when no capability serves the agent's domain. The agent
	// is expected to contribute through events instead.
	Unbound bool
}

// Dispatcher invokes capabilities through a per-domain circuit breaker.
type Dispatcher struct {
	registry *Registry
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a dispatcher over the registry.
func New(registry *Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (d *Dispatcher) breaker(agentDomain string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[agentDomain]; ok {
		return cb
	}
	threshold := uint32(d.cfg.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentDomain,
		MaxRequests: 1,
		Timeout:     d.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("agent breaker state change", "domain", name, "from", from.String(), "to", to.String())
			d.metrics.SetBreakerState(name, int(to))
		},
	})
	d.breakers[agentDomain] = cb
	return cb
}

// BreakerState reports the breaker state of a domain. Domains never called
// report closed.
func (d *Dispatcher) BreakerState(agentDomain string) gobreaker.State {
	d.mu.Lock()
	cb, ok := d.breakers[agentDomain]
	d.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.BackoffBase
	b.MaxInterval = d.cfg.BackoffCap
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.cfg.MaxAttempts-1)), ctx)
}

// Invoke asks the agent's capability for a contribution. Each attempt runs
// under the per-call timeout and counts against the domain's breaker. An open
// breaker yields a degraded result with no error. Exhausted retries yield a
// *domain.TransientExternalError.
func (d *Dispatcher) Invoke(ctx context.Context, rc RoundContext) (Result, error) {
	agentDomain := rc.Agent.Domain
	res := Result{AgentID: rc.Agent.ID}

	capability, ok := d.registry.Lookup(agentDomain)
	if !ok {
		res.Unbound = true
		return res, nil
	}
	cb := d.breaker(agentDomain)

	attempt := 0
	op := func() (string, error) {
		attempt++
		out, err := cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
			defer cancel()
			return capability.Invoke(callCtx, rc)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrBreakerOpen, err))
		}
		if err != nil {
			d.logger.Debug("agent call failed", "domain", agentDomain, "agent_id", rc.Agent.ID, "attempt", attempt, "error", err)
			d.metrics.IncAgentCall(agentDomain, "error")
			return "", err
		}
		d.metrics.IncAgentCall(agentDomain, "ok")
		return out.(string), nil
	}

	content, err := backoff.RetryWithData(op, d.newBackOff(ctx))
	switch {
	case err == nil:
		res.Content = content
		return res, nil
	case errors.Is(err, domain.ErrBreakerOpen):
		d.metrics.IncAgentCall(agentDomain, "short_circuit")
		d.logger.Warn("agent call short-circuited", "domain", agentDomain, "agent_id", rc.Agent.ID)
		res.Degraded = true
		return res, nil
	default:
		return res, &domain.TransientExternalError{Domain: agentDomain, Err: err}
	}
}
