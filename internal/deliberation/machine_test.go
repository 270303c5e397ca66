package deliberation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PManghan91/boardroom/internal/dispatcher"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/logging"
	"github.com/PManghan91/boardroom/internal/policy"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []dispatcher.RoundContext
	results map[string]dispatcher.Result
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, rc dispatcher.RoundContext) (dispatcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rc)
	if f.err != nil {
		return dispatcher.Result{}, f.err
	}
	if res, ok := f.results[rc.Agent.ID]; ok {
		res.AgentID = rc.Agent.ID
		return res, nil
	}
	return dispatcher.Result{AgentID: rc.Agent.ID, Unbound: true}, nil
}

type harness struct {
	t       *testing.T
	m       *Machine
	st      *RoomState
	invoker *fakeInvoker
	offset  int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	inv := &fakeInvoker{results: map[string]dispatcher.Result{}}
	m := NewMachine(Config{
		DefaultQuorum:       2,
		DecisionDeadline:    time.Minute,
		MaxDecisionDeadline: time.Hour,
		RoundTimeout:        2 * time.Minute,
	}, inv, nil, logging.Discard())
	return &harness{t: t, m: m, st: NewRoomState("demo"), invoker: inv}
}

func (h *harness) apply(at time.Duration, author string, payload map[string]any) error {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.offset++
	err = h.m.Apply(context.Background(), h.st, domain.Event{
		RoomID:     "demo",
		Offset:     h.offset,
		Author:     author,
		Payload:    raw,
		EnqueuedAt: t0.Add(at),
	})
	if err == nil || domain.Classify(err) != domain.KindTransient {
		h.st.LastOffset = h.offset
	}
	return err
}

func (h *harness) mustApply(at time.Duration, author string, payload map[string]any) {
	h.t.Helper()
	require.NoError(h.t, h.apply(at, author, payload))
}

func twoAgents() []map[string]string {
	return []map[string]string{
		{"id": "cfo", "domain": "finance"},
		{"id": "gc", "domain": "legal"},
	}
}

func TestEndToEndDemoSession(t *testing.T) {
	h := newHarness(t)

	h.mustApply(0, "chair", map[string]any{"type": "start_session", "topic": "Q3 budget", "agents": twoAgents()})
	assert.Equal(t, domain.PhaseProposing, h.st.Phase)
	require.NotNil(t, h.st.Session)
	assert.Equal(t, 1, h.st.Session.Round)

	h.mustApply(time.Second, "cfo", map[string]any{"type": "agent_contribution", "content": "cut travel"})
	assert.Equal(t, domain.PhaseProposing, h.st.Phase)
	h.mustApply(2*time.Second, "gc", map[string]any{"type": "agent_contribution", "content": "fine by legal"})
	assert.Equal(t, domain.PhaseDeliberating, h.st.Phase)

	h.mustApply(3*time.Second, "chair", map[string]any{
		"type": "propose_decision", "title": "Approve?", "options": []string{"A", "B"}, "quorum": 2, "deadline_ms": 60000,
	})
	assert.Equal(t, domain.PhaseVoting, h.st.Phase)
	decisionID := h.st.Session.Decisions[0].ID

	h.mustApply(4*time.Second, "cfo", map[string]any{"type": "cast_vote", "decision_id": decisionID, "choice": 0})
	h.mustApply(5*time.Second, "gc", map[string]any{"type": "cast_vote", "decision_id": decisionID, "choice": 1})

	assert.Equal(t, domain.PhaseResolved, h.st.Phase)
	assert.Equal(t, domain.SessionStatusResolved, h.st.Session.Status)
	d := h.st.Session.Decisions[0]
	require.NotNil(t, d.Winner)
	assert.Equal(t, 0, *d.Winner)
	assert.Equal(t, domain.ResolvedByTieBreak, d.ResolvedBy)
	assert.True(t, d.ClosedAt.Before(d.Deadline))

	// The next event archives the resolved session first.
	h.mustApply(6*time.Second, "chair", map[string]any{"type": "timer"})
	assert.Equal(t, domain.PhaseIdle, h.st.Phase)
	assert.Nil(t, h.st.Session)
	require.Len(t, h.st.History, 1)
	assert.Equal(t, domain.SessionStatusResolved, h.st.History[0].Status)
	assert.Equal(t, decisionID, h.st.History[0].DecisionID)
}

func TestDispatchedContributionsCompleteRound(t *testing.T) {
	h := newHarness(t)
	h.invoker.results["cfo"] = dispatcher.Result{Content: "numbers look fine"}
	h.invoker.results["gc"] = dispatcher.Result{Degraded: true}

	h.mustApply(0, "chair", map[string]any{"type": "start_session", "topic": "Hiring", "agents": twoAgents()})

	assert.Equal(t, domain.PhaseDeliberating, h.st.Phase)
	r := h.st.Session.CurrentRound()
	assert.Equal(t, domain.RoundStatusComplete, r.Status)
	assert.Equal(t, "dispatch", r.Contributions["cfo"].Source)
	assert.Equal(t, []string{"gc"}, r.Degraded)
	assert.Len(t, h.invoker.calls, 2)
	for _, call := range h.invoker.calls {
		assert.Equal(t, "Hiring", call.Topic)
		assert.Equal(t, 1, call.Round)
	}
}

func TestTransientDispatchLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.invoker.err = &domain.TransientExternalError{Domain: "finance", Err: errors.New("503")}

	err := h.apply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
	assert.Equal(t, domain.PhaseIdle, h.st.Phase)
	assert.Nil(t, h.st.Session)
	assert.Empty(t, h.st.Agents)
}

func TestUnknownAgentIsMalformed(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})

	err := h.apply(time.Second, "intruder", map[string]any{"type": "agent_contribution", "content": "hi"})
	assert.Equal(t, domain.KindMalformed, domain.Classify(err))
	assert.NotContains(t, h.st.Session.CurrentRound().Contributions, "intruder")
}

func TestMalformedPayloads(t *testing.T) {
	h := newHarness(t)
	for _, payload := range []map[string]any{
		{"type": "warp_drive"},
		{"topic": "no type"},
		{"type": "start_session", "agents": []map[string]string{{"id": "x"}}},
		{"type": "start_session", "agents": []map[string]string{{"id": "x", "domain": "a"}, {"id": "x", "domain": "b"}}},
	} {
		err := h.apply(0, "chair", payload)
		assert.Equal(t, domain.KindMalformed, domain.Classify(err), "payload %v", payload)
	}
	assert.Equal(t, domain.PhaseIdle, h.st.Phase)
}

func TestOutOfPhaseEventsConflict(t *testing.T) {
	h := newHarness(t)

	err := h.apply(0, "chair", map[string]any{"type": "next_round"})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})
	err = h.apply(time.Second, "chair", map[string]any{"type": "start_session"})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	err = h.apply(time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b"}})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))
	// Content is not inspected out of phase.
	err = h.apply(time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"only"}})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	h.mustApply(2*time.Second, "cfo", map[string]any{"type": "agent_contribution", "content": "x"})
	err = h.apply(3*time.Second, "cfo", map[string]any{"type": "agent_contribution", "content": "again"})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))
	assert.Equal(t, "x", h.st.Session.CurrentRound().Contributions["cfo"].Content)
}

func TestRoundTimeoutMovesToDeliberating(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents(), "round_timeout_ms": 1000})
	due := h.st.NextDue()
	require.NotNil(t, due)
	assert.Equal(t, t0.Add(time.Second), *due)

	h.mustApply(time.Second, "monitor", map[string]any{"type": "timer"})
	assert.Equal(t, domain.PhaseDeliberating, h.st.Phase)
	assert.Equal(t, domain.RoundStatusTimedOut, h.st.Session.CurrentRound().Status)
	assert.Nil(t, h.st.NextDue())
}

func TestMultipleRounds(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})
	h.mustApply(time.Second, "cfo", map[string]any{"type": "agent_contribution", "content": "r1 cfo"})
	h.mustApply(time.Second, "gc", map[string]any{"type": "agent_contribution", "content": "r1 gc"})

	h.invoker.results["cfo"] = dispatcher.Result{Content: "r2 cfo"}
	h.mustApply(2*time.Second, "chair", map[string]any{"type": "next_round"})

	assert.Equal(t, domain.PhaseProposing, h.st.Phase)
	assert.Equal(t, 2, h.st.Session.Round)
	require.Len(t, h.st.Session.Rounds, 2)
	assert.Equal(t, domain.RoundStatusComplete, h.st.Session.Rounds[0].Status)
	assert.Contains(t, h.st.Session.CurrentRound().Contributions, "cfo")

	last := h.invoker.calls[len(h.invoker.calls)-1]
	require.Len(t, last.Prior, 2)
	assert.Equal(t, "r1 cfo", last.Prior[0].Content)
}

func TestDecisionExpiresAtDeadline(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	assert.Equal(t, domain.PhaseDeliberating, h.st.Phase)

	h.mustApply(time.Second, "chair", map[string]any{
		"type": "propose_decision", "title": "Go?", "options": []string{"yes", "no"}, "quorum": 3, "deadline_ms": 10000,
	})
	h.mustApply(2*time.Second, "a", map[string]any{"type": "cast_vote", "choice": 0})

	h.mustApply(11*time.Second, "monitor", map[string]any{"type": "timer"})
	assert.Equal(t, domain.PhaseExpired, h.st.Phase)
	d := h.st.Session.Decisions[0]
	assert.Equal(t, domain.DecisionStatusExpired, d.Status)
	assert.Nil(t, d.Winner)

	err := h.apply(12*time.Second, "b", map[string]any{"type": "cast_vote", "decision_id": d.ID, "choice": 0})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))
	assert.Equal(t, domain.PhaseIdle, h.st.Phase)
}

func TestVoteAfterResolutionIsClosed(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	h.mustApply(time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b"}, "quorum": 1})
	d := h.st.Session.Decisions[0]
	h.mustApply(2*time.Second, "x", map[string]any{"type": "cast_vote", "decision_id": d.ID, "choice": 1})
	require.Equal(t, domain.DecisionStatusResolved, d.Status)

	// A late vote is applied to the archived decision id and rejected.
	err := h.apply(3*time.Second, "y", map[string]any{"type": "cast_vote", "decision_id": d.ID, "choice": 0})
	var conflict *domain.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, domain.ErrDecisionClosed)
}

func TestOutOfOrderVotesUseCastAt(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	h.mustApply(time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b"}, "quorum": 2})
	d := h.st.Session.Decisions[0]

	h.mustApply(2*time.Second, "chair", map[string]any{"type": "cast_vote", "voter_id": "v1", "choice": 1, "cast_at": t0.Add(20 * time.Second)})
	h.mustApply(3*time.Second, "chair", map[string]any{"type": "cast_vote", "voter_id": "v1", "choice": 0, "cast_at": t0.Add(10 * time.Second)})

	assert.Equal(t, 1, d.Votes["v1"].Choice)
	assert.Equal(t, domain.PhaseVoting, h.st.Phase)
}

func TestPauseFreezesDeadlines(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	h.mustApply(0, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b"}, "deadline_ms": 10000})
	h.mustApply(5*time.Second, "chair", map[string]any{"type": "pause_session"})
	assert.Nil(t, h.st.NextDue())

	err := h.apply(6*time.Second, "v", map[string]any{"type": "cast_vote", "choice": 0})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))

	// Paused well past the original deadline.
	h.mustApply(65*time.Second, "chair", map[string]any{"type": "resume_session"})
	assert.Equal(t, domain.PhaseVoting, h.st.Phase)
	due := h.st.NextDue()
	require.NotNil(t, due)
	assert.Equal(t, t0.Add(70*time.Second), *due)

	h.mustApply(66*time.Second, "v", map[string]any{"type": "cast_vote", "choice": 0})
	assert.Equal(t, 1, len(h.st.Session.Decisions[0].Votes))
}

func TestCancelDiscardsDecisions(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	h.mustApply(time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b"}})
	d := h.st.Session.Decisions[0]

	h.mustApply(2*time.Second, "chair", map[string]any{"type": "cancel_session", "reason": "board dissolved"})
	assert.Equal(t, domain.PhaseIdle, h.st.Phase)
	assert.Equal(t, domain.DecisionStatusCancelled, d.Status)
	require.Len(t, h.st.History, 1)
	assert.Equal(t, domain.SessionStatusCancelled, h.st.History[0].Status)
	assert.Nil(t, h.st.NextDue())

	projected := h.st.Decisions()
	require.Len(t, projected, 1)
	assert.Equal(t, d.ID, projected[0].ID)
	assert.Equal(t, domain.DecisionStatusCancelled, projected[0].Status)

	// Cancelling an idle room changes nothing.
	h.mustApply(3*time.Second, "chair", map[string]any{"type": "cancel_session"})
	assert.Len(t, h.st.History, 1)
	assert.Empty(t, h.st.Decisions())
}

func TestJoinDuringProposingDispatches(t *testing.T) {
	h := newHarness(t)
	h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})
	h.invoker.results["cto"] = dispatcher.Result{Content: "ship it"}

	h.mustApply(time.Second, "chair", map[string]any{"type": "join", "agent": map[string]string{"id": "cto", "domain": "Engineering"}})
	a, ok := h.st.Agent("cto")
	require.True(t, ok)
	assert.Equal(t, "engineering", a.Domain)
	assert.Contains(t, h.st.Session.CurrentRound().Contributions, "cto")

	// Rejoining with the same identity is a no-op; a different one conflicts.
	h.mustApply(2*time.Second, "chair", map[string]any{"type": "join", "agent": map[string]string{"id": "cto", "domain": "engineering"}})
	err := h.apply(3*time.Second, "chair", map[string]any{"type": "join", "agent": map[string]string{"id": "cto", "domain": "finance"}})
	assert.Equal(t, domain.KindStateConflict, domain.Classify(err))
}

func TestDefaultAgentsFromRoster(t *testing.T) {
	h := newHarness(t)
	h.m.cfg.DefaultAgents = []domain.Agent{{ID: "auditor", Domain: "audit"}}
	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	require.Len(t, h.st.Agents, 1)
	assert.Equal(t, "auditor", h.st.Agents[0].ID)
}

func TestProposalPolicyDenies(t *testing.T) {
	h := newHarness(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	h.m.policy = engine

	h.mustApply(0, "chair", map[string]any{"type": "start_session"})
	err = h.apply(time.Second, "chair", map[string]any{
		"type": "propose_decision", "title": "t", "options": []string{"a", "a"}, "deadline_ms": int64(2 * time.Hour / time.Millisecond),
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindMalformed, domain.Classify(err))
	assert.Contains(t, err.Error(), "exceeds maximum")
	assert.Equal(t, domain.PhaseDeliberating, h.st.Phase)
}

func TestReplayIsDeterministic(t *testing.T) {
	run := func() []byte {
		h := newHarness(t)
		h.invoker.results["cfo"] = dispatcher.Result{Content: "c"}
		h.mustApply(0, "chair", map[string]any{"type": "start_session", "agents": twoAgents()})
		h.mustApply(time.Second, "gc", map[string]any{"type": "agent_contribution", "content": "g"})
		h.mustApply(2*time.Second, "chair", map[string]any{"type": "propose_decision", "title": "t", "options": []string{"a", "b", "c"}, "quorum": 4})
		for i, v := range []struct {
			voter  string
			choice int
		}{{"w", 1}, {"x", 2}, {"y", 1}, {"z", 2}} {
			h.mustApply(time.Duration(3+i)*time.Second, v.voter, map[string]any{"type": "cast_vote", "choice": v.choice})
		}
		out, err := h.st.Marshal()
		require.NoError(t, err)
		return out
	}
	first := run()
	for i := 0; i < 3; i++ {
		assert.Equal(t, string(first), string(run()), fmt.Sprintf("run %d", i))
	}

	st, err := Restore("demo", first)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolved, st.Phase)
	require.NotNil(t, st.Session.Decisions[0].Winner)
	assert.Equal(t, 1, *st.Session.Decisions[0].Winner)
}
