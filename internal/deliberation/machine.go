package deliberation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PManghan91/boardroom/internal/dispatcher"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/policy"
	"github.com/PManghan91/boardroom/internal/voting"
)

var sessionNamespace = uuid.MustParse("0b9e7c1a-3d52-4e8f-a6b1-58c2d4f7e903")

// Invoker asks an agent for a contribution.
type Invoker interface {
	Invoke(ctx context.Context, rc dispatcher.RoundContext) (dispatcher.Result, error)
}

// ProposalChecker admits or denies decision proposals.
type ProposalChecker interface {
	Check(ctx context.Context, p policy.Proposal) ([]string, error)
}

// Config holds the deliberation defaults.
type Config struct {
	DefaultQuorum       int
	DecisionDeadline    time.Duration
	MaxDecisionDeadline time.Duration
	RoundTimeout        time.Duration
	DefaultAgents       []domain.Agent
}

// Machine applies events to room states. It holds no per-room state itself.
type Machine struct {
	cfg     Config
	invoker Invoker
	policy  ProposalChecker
	logger  *slog.Logger
}

// NewMachine creates a state machine. policy may be nil to skip proposal rules.
func NewMachine(cfg Config, invoker Invoker, checker ProposalChecker, logger *slog.Logger) *Machine {
	return &Machine{cfg: cfg, invoker: invoker, policy: checker, logger: logger}
}

// Apply applies one event to st. All times come from the event's enqueued_at.
//
// A *domain.MalformedEventError or *domain.StateConflictError leaves the
// event's own effect unapplied; pending timer transitions that were due at
// enqueued_at are still applied. Any other error is transient and st must be
// discarded by the caller.
func (m *Machine) Apply(ctx context.Context, st *RoomState, ev domain.Event) error {
	st.closed = nil
	if st.Phase == domain.PhaseResolved || st.Phase == domain.PhaseExpired {
		st.archive()
	}
	m.advanceTimers(st, ev.EnqueuedAt)

	typ, err := ev.Type()
	if err != nil {
		return domain.Malformed("offset %d: %v", ev.Offset, err)
	}

	switch typ {
	case domain.EventTypeStartSession:
		return m.startSession(ctx, st, ev)
	case domain.EventTypeJoin:
		return m.join(ctx, st, ev)
	case domain.EventTypeAgentContribution:
		return m.contribute(st, ev)
	case domain.EventTypeNextRound:
		return m.nextRound(ctx, st, ev)
	case domain.EventTypeProposeDecision:
		return m.propose(ctx, st, ev)
	case domain.EventTypeCastVote:
		return m.castVote(st, ev)
	case domain.EventTypePauseSession:
		return m.pause(st, ev)
	case domain.EventTypeResumeSession:
		return m.resume(st, ev)
	case domain.EventTypeCancelSession:
		return m.cancel(st, ev)
	case domain.EventTypeTimer:
		return nil
	case "":
		return domain.Malformed("offset %d: payload has no type", ev.Offset)
	default:
		return domain.Malformed("offset %d: unknown event type %q", ev.Offset, typ)
	}
}

// advanceTimers fires round timeouts and decision deadlines due at now.
func (m *Machine) advanceTimers(st *RoomState, now time.Time) {
	sess := st.Session
	if sess == nil || sess.Status != domain.SessionStatusActive {
		return
	}
	switch st.Phase {
	case domain.PhaseProposing:
		r := sess.CurrentRound()
		if r != nil && r.Deadline != nil && !now.Before(*r.Deadline) {
			r.Status = domain.RoundStatusTimedOut
			st.Phase = domain.PhaseDeliberating
			m.logger.Info("round timed out", "room_id", st.RoomID, "round", r.Number)
		}
	case domain.PhaseVoting:
		d := sess.OpenDecision()
		if d != nil && voting.Expire(d, now) {
			st.Phase = domain.PhaseExpired
			sess.Status = domain.SessionStatusExpired
			sess.EndedAt = &now
			m.logger.Info("decision expired", "room_id", st.RoomID, "decision_id", d.ID)
		}
	}
}

func (m *Machine) requireActive(st *RoomState, action string, phases ...domain.Phase) error {
	if st.Session == nil {
		return domain.Conflict(action+": no active session", nil)
	}
	if st.Session.Status == domain.SessionStatusPaused {
		return domain.Conflict(action+": session paused", nil)
	}
	for _, p := range phases {
		if st.Phase == p {
			return nil
		}
	}
	return domain.Conflict(fmt.Sprintf("%s: not allowed in phase %s", action, st.Phase), nil)
}

func (m *Machine) startSession(ctx context.Context, st *RoomState, ev domain.Event) error {
	var p startSessionPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	agents, err := validateAgents(p.Agents)
	if err != nil {
		return err
	}
	if p.RoundTimeoutMs < 0 {
		return domain.Malformed("round_timeout_ms must not be negative")
	}
	if st.Phase != domain.PhaseIdle {
		return domain.Conflict("start_session: session already in progress", nil)
	}

	if len(agents) == 0 {
		agents = st.Agents
	}
	if len(agents) == 0 {
		agents = m.cfg.DefaultAgents
	}
	timeout := m.cfg.RoundTimeout
	if p.RoundTimeoutMs > 0 {
		timeout = time.Duration(p.RoundTimeoutMs) * time.Millisecond
	}

	next := *st
	next.Agents = append([]domain.Agent(nil), agents...)
	next.Session = &domain.Session{
		ID:             uuid.NewSHA1(sessionNamespace, []byte(fmt.Sprintf("%s:%d", st.RoomID, ev.Offset))).String(),
		Topic:          strings.TrimSpace(p.Topic),
		Status:         domain.SessionStatusActive,
		StartedAt:      ev.EnqueuedAt,
		RoundTimeoutMs: timeout.Milliseconds(),
	}
	openRound(next.Session, ev.EnqueuedAt, timeout)
	next.Phase = domain.PhaseProposing

	results, err := m.dispatch(ctx, &next, next.Agents)
	if err != nil {
		return err
	}
	*st = next
	m.merge(st, ev, results)
	m.logger.Info("session started", "room_id", st.RoomID, "session_id", st.Session.ID, "agents", len(st.Agents))
	return nil
}

func openRound(sess *domain.Session, at time.Time, timeout time.Duration) {
	sess.Round++
	r := domain.Round{
		Number:        sess.Round,
		StartedAt:     at,
		Contributions: make(map[string]domain.Contribution),
		Status:        domain.RoundStatusOpen,
	}
	if timeout > 0 {
		deadline := at.Add(timeout)
		r.Deadline = &deadline
	}
	sess.Rounds = append(sess.Rounds, r)
}

func (m *Machine) join(ctx context.Context, st *RoomState, ev domain.Event) error {
	var p joinPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	agents, err := validateAgents([]domain.Agent{p.Agent})
	if err != nil {
		return err
	}
	agent := agents[0]
	if existing, ok := st.Agent(agent.ID); ok {
		if existing == agent {
			return nil
		}
		return domain.Conflict(fmt.Sprintf("join: agent %s already in room", agent.ID), nil)
	}

	var results []dispatcher.Result
	proposing := st.Phase == domain.PhaseProposing && st.Session != nil && st.Session.Status == domain.SessionStatusActive
	if proposing {
		results, err = m.dispatch(ctx, st, []domain.Agent{agent})
		if err != nil {
			return err
		}
	}
	st.Agents = append(st.Agents, agent)
	if proposing {
		m.merge(st, ev, results)
	}
	return nil
}

func (m *Machine) contribute(st *RoomState, ev domain.Event) error {
	var p contributionPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	agentID := p.AgentID
	if agentID == "" {
		agentID = ev.Author
	}
	if _, ok := st.Agent(agentID); !ok {
		return domain.Malformed("contribution from unknown agent %q", agentID)
	}
	if err := m.requireActive(st, "agent_contribution", domain.PhaseProposing); err != nil {
		return err
	}
	r := st.Session.CurrentRound()
	if _, done := r.Contributions[agentID]; done {
		return domain.Conflict(fmt.Sprintf("agent_contribution: %s already contributed to round %d", agentID, r.Number), nil)
	}
	r.Contributions[agentID] = domain.Contribution{
		AgentID: agentID,
		Content: p.Content,
		Source:  "event",
		Offset:  ev.Offset,
		At:      ev.EnqueuedAt,
	}
	r.Degraded = without(r.Degraded, agentID)
	m.completeRound(st)
	return nil
}

func (m *Machine) nextRound(ctx context.Context, st *RoomState, ev domain.Event) error {
	if err := m.requireActive(st, "next_round", domain.PhaseDeliberating); err != nil {
		return err
	}
	next := *st
	sess := *st.Session
	sess.Rounds = append([]domain.Round(nil), st.Session.Rounds...)
	next.Session = &sess
	openRound(next.Session, ev.EnqueuedAt, time.Duration(sess.RoundTimeoutMs)*time.Millisecond)
	next.Phase = domain.PhaseProposing

	results, err := m.dispatch(ctx, &next, next.Agents)
	if err != nil {
		return err
	}
	*st = next
	m.merge(st, ev, results)
	return nil
}

func (m *Machine) propose(ctx context.Context, st *RoomState, ev domain.Event) error {
	if err := m.requireActive(st, "propose_decision", domain.PhaseDeliberating); err != nil {
		return err
	}
	var p proposePayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	quorum := m.cfg.DefaultQuorum
	if p.Quorum != nil {
		quorum = *p.Quorum
	}
	deadline := m.cfg.DecisionDeadline
	if p.DeadlineMs != nil {
		deadline = time.Duration(*p.DeadlineMs) * time.Millisecond
	}

	if m.policy != nil {
		reasons, err := m.policy.Check(ctx, policy.Proposal{
			Title:         p.Title,
			Options:       p.Options,
			Quorum:        quorum,
			DeadlineMs:    deadline.Milliseconds(),
			MaxDeadlineMs: m.cfg.MaxDecisionDeadline.Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("evaluate proposal policy: %w", err)
		}
		if len(reasons) > 0 {
			return domain.Malformed("proposal denied: %s", strings.Join(reasons, "; "))
		}
	}

	d, err := voting.Open(voting.OpenParams{
		ID:        voting.DecisionID(st.RoomID, ev.Offset),
		Title:     strings.TrimSpace(p.Title),
		Options:   p.Options,
		Quorum:    quorum,
		Deadline:  ev.EnqueuedAt.Add(deadline),
		TieBreak:  p.TieBreak,
		CreatedAt: ev.EnqueuedAt,
	})
	if err != nil {
		return err
	}
	d.SessionID = st.Session.ID
	st.Session.Decisions = append(st.Session.Decisions, d)
	st.Phase = domain.PhaseVoting
	m.logger.Info("decision opened", "room_id", st.RoomID, "decision_id", d.ID, "quorum", d.QuorumThreshold, "deadline", d.Deadline)
	return nil
}

func (m *Machine) castVote(st *RoomState, ev domain.Event) error {
	var p votePayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	if p.Choice == nil {
		return domain.Malformed("cast_vote without choice")
	}
	voter := p.VoterID
	if voter == "" {
		voter = ev.Author
	}
	castAt := ev.EnqueuedAt
	if p.CastAt != nil {
		castAt = *p.CastAt
	}

	var d *domain.Decision
	if st.Session != nil {
		if p.DecisionID != "" {
			d = st.Session.Decision(p.DecisionID)
		} else if n := len(st.Session.Decisions); n > 0 {
			d = st.Session.Decisions[n-1]
		}
	}
	if d == nil {
		if p.DecisionID != "" {
			return domain.Conflict(fmt.Sprintf("cast_vote: decision %s is not in the current session", p.DecisionID), domain.ErrDecisionClosed)
		}
		return domain.Conflict("cast_vote: no decision open", domain.ErrDecisionNotFound)
	}
	if d.Status != domain.DecisionStatusOpen {
		return domain.Conflict("cast_vote: "+d.ID, domain.ErrDecisionClosed)
	}
	if err := m.requireActive(st, "cast_vote", domain.PhaseVoting); err != nil {
		return err
	}

	applied, err := voting.Cast(d, domain.Vote{VoterID: voter, Choice: *p.Choice, CastAt: castAt})
	if err != nil {
		if errors.Is(err, domain.ErrDecisionClosed) {
			return domain.Conflict("cast_vote: "+d.ID, err)
		}
		return err
	}
	if !applied {
		m.logger.Debug("stale vote ignored", "room_id", st.RoomID, "decision_id", d.ID, "voter_id", voter)
		return nil
	}
	if voting.Resolve(d, ev.EnqueuedAt) {
		st.Phase = domain.PhaseResolved
		st.Session.Status = domain.SessionStatusResolved
		ended := ev.EnqueuedAt
		st.Session.EndedAt = &ended
		m.logger.Info("decision resolved", "room_id", st.RoomID, "decision_id", d.ID, "winner", *d.Winner, "resolved_by", d.ResolvedBy)
	}
	return nil
}

func (m *Machine) pause(st *RoomState, ev domain.Event) error {
	if err := m.requireActive(st, "pause_session", domain.PhaseProposing, domain.PhaseDeliberating, domain.PhaseVoting); err != nil {
		return err
	}
	at := ev.EnqueuedAt
	st.Session.Status = domain.SessionStatusPaused
	st.Session.PausedAt = &at
	return nil
}

// resume shifts pending deadlines by the time spent paused.
func (m *Machine) resume(st *RoomState, ev domain.Event) error {
	sess := st.Session
	if sess == nil || sess.Status != domain.SessionStatusPaused {
		return domain.Conflict("resume_session: session not paused", nil)
	}
	paused := time.Duration(0)
	if sess.PausedAt != nil && ev.EnqueuedAt.After(*sess.PausedAt) {
		paused = ev.EnqueuedAt.Sub(*sess.PausedAt)
	}
	if r := sess.CurrentRound(); r != nil && r.Deadline != nil && r.Status == domain.RoundStatusOpen {
		shifted := r.Deadline.Add(paused)
		r.Deadline = &shifted
	}
	if d := sess.OpenDecision(); d != nil {
		d.Deadline = d.Deadline.Add(paused)
	}
	sess.Status = domain.SessionStatusActive
	sess.PausedAt = nil
	return nil
}

func (m *Machine) cancel(st *RoomState, ev domain.Event) error {
	var p cancelPayload
	if err := decode(ev, &p); err != nil {
		return err
	}
	sess := st.Session
	if sess == nil {
		st.Phase = domain.PhaseIdle
		return nil
	}
	at := ev.EnqueuedAt
	for _, d := range sess.Decisions {
		voting.Cancel(d, at)
	}
	if r := sess.CurrentRound(); r != nil && r.Status == domain.RoundStatusOpen {
		r.Status = domain.RoundStatusComplete
	}
	sess.Status = domain.SessionStatusCancelled
	sess.EndedAt = &at
	sess.EndReason = p.Reason
	sess.PausedAt = nil
	st.archive()
	m.logger.Info("session cancelled", "room_id", st.RoomID, "session_id", sess.ID, "reason", p.Reason)
	return nil
}

// dispatch fans the current round out to every agent concurrently. Results
// are in agent order. Nothing in st is modified.
func (m *Machine) dispatch(ctx context.Context, st *RoomState, agents []domain.Agent) ([]dispatcher.Result, error) {
	if m.invoker == nil || len(agents) == 0 {
		return nil, nil
	}
	sess := st.Session
	prior := st.priorContributions()
	results := make([]dispatcher.Result, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range agents {
		rc := dispatcher.RoundContext{
			RoomID:    st.RoomID,
			SessionID: sess.ID,
			Topic:     sess.Topic,
			Round:     sess.Round,
			Agent:     a,
			Prior:     prior,
		}
		g.Go(func() error {
			res, err := m.invoker.Invoke(gctx, rc)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// merge folds dispatch results into the current round.
func (m *Machine) merge(st *RoomState, ev domain.Event, results []dispatcher.Result) {
	r := st.Session.CurrentRound()
	for _, res := range results {
		switch {
		case res.Unbound:
		case res.Degraded:
			r.Degraded = append(r.Degraded, res.AgentID)
		default:
			r.Contributions[res.AgentID] = domain.Contribution{
				AgentID: res.AgentID,
				Content: res.Content,
				Source:  "dispatch",
				Offset:  ev.Offset,
				At:      ev.EnqueuedAt,
			}
		}
	}
	sort.Strings(r.Degraded)
	m.completeRound(st)
}

func (m *Machine) completeRound(st *RoomState) {
	if st.Phase != domain.PhaseProposing || !st.roundComplete() {
		return
	}
	r := st.Session.CurrentRound()
	r.Status = domain.RoundStatusComplete
	st.Phase = domain.PhaseDeliberating
	m.logger.Debug("round complete", "room_id", st.RoomID, "round", r.Number, "degraded", len(r.Degraded))
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
