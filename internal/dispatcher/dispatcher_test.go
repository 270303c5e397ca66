package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PManghan91/boardroom/internal/adapter/llm"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/logging"
	"github.com/PManghan91/boardroom/internal/metrics"
)

type countingCapability struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (c *countingCapability) Invoke(ctx context.Context, rc RoundContext) (string, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return "", errors.New("503 from finance agent")
	}
	return "ok from " + rc.Agent.ID, nil
}

func newDispatcher(t *testing.T, reg *Registry, cfg Config) *Dispatcher {
	t.Helper()
	return New(reg, cfg, logging.Discard(), metrics.New())
}

func financeRound() RoundContext {
	return RoundContext{RoomID: "demo", SessionID: "s1", Topic: "budget", Round: 1, Agent: domain.Agent{ID: "cfo", Domain: "finance"}}
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	capability := &countingCapability{}
	capability.fail.Store(true)
	reg := NewRegistry()
	reg.MustRegister("finance", capability)
	d := newDispatcher(t, reg, Config{
		Timeout: time.Second, MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond,
		FailureThreshold: 5, Cooldown: 50 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := d.Invoke(ctx, financeRound())
		var transient *domain.TransientExternalError
		require.True(t, errors.As(err, &transient))
		assert.Equal(t, "finance", transient.Domain)
	}
	assert.Equal(t, gobreaker.StateOpen, d.BreakerState("finance"))

	// Sixth call short-circuits without touching the capability.
	res, err := d.Invoke(ctx, financeRound())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, int32(5), capability.calls.Load())

	// After cool-down exactly one trial call goes through; it fails and
	// re-opens the breaker.
	time.Sleep(70 * time.Millisecond)
	_, err = d.Invoke(ctx, financeRound())
	require.Error(t, err)
	assert.Equal(t, int32(6), capability.calls.Load())
	res, err = d.Invoke(ctx, financeRound())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, int32(6), capability.calls.Load())

	// A successful trial closes it again.
	time.Sleep(70 * time.Millisecond)
	capability.fail.Store(false)
	res, err = d.Invoke(ctx, financeRound())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, "ok from cfo", res.Content)
	assert.Equal(t, int32(7), capability.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, d.BreakerState("finance"))
}

func TestInvokeRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("legal", CapabilityFunc(func(ctx context.Context, rc RoundContext) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("timeout")
		}
		return "no objection", nil
	}))
	d := newDispatcher(t, reg, Config{
		Timeout: time.Second, MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond,
		FailureThreshold: 10, Cooldown: time.Second,
	})

	res, err := d.Invoke(context.Background(), RoundContext{Agent: domain.Agent{ID: "gc", Domain: "legal"}})
	require.NoError(t, err)
	assert.Equal(t, "no objection", res.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeAppliesPerCallTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("slow", CapabilityFunc(func(ctx context.Context, rc RoundContext) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	d := newDispatcher(t, reg, Config{
		Timeout: 10 * time.Millisecond, MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCap: time.Millisecond,
		FailureThreshold: 5, Cooldown: time.Second,
	})

	start := time.Now()
	_, err := d.Invoke(context.Background(), RoundContext{Agent: domain.Agent{ID: "x", Domain: "slow"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeUnboundDomain(t *testing.T) {
	d := newDispatcher(t, NewRegistry(), Config{Timeout: time.Second, MaxAttempts: 1})
	res, err := d.Invoke(context.Background(), RoundContext{Agent: domain.Agent{ID: "hr1", Domain: "hr"}})
	require.NoError(t, err)
	assert.True(t, res.Unbound)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("finance", Static("x")))
	assert.Error(t, reg.Register("finance", Static("y")))
	assert.Error(t, reg.Register("", Static("y")))
	assert.Error(t, reg.Register("legal", nil))
	require.NoError(t, reg.Register("legal", Static("z")))
	assert.Equal(t, []string{"finance", "legal"}, reg.Domains())
}

func TestBuiltinCapabilities(t *testing.T) {
	rc := financeRound()
	out, err := Static("hold on {topic}").Invoke(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "hold on budget", out)

	rc.Prior = []domain.Contribution{{AgentID: "gc", Content: "fine"}}
	out, err = LLMAgent(llm.NewMockClient(), "m", "").Invoke(context.Background(), rc)
	require.NoError(t, err)
	assert.Contains(t, out, "Topic: budget")

	p := Prompt(rc, "")
	assert.Contains(t, p.System, "finance")
	assert.Contains(t, p.User, "- gc: fine")
}
