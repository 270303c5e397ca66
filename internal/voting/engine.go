// Package voting implements decisions, votes, quorum and tie-break rules.
//
// The engine operates on *domain.Decision values owned by the caller. It has
// no clock and no storage: every time it needs comes from its inputs, so a
// replay of the same events resolves the same way.
package voting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PManghan91/boardroom/internal/domain"
)

var decisionNamespace = uuid.MustParse("6f1d3c52-8a4e-4f0b-9c3e-2b7d9a51e8c4")

// DecisionID derives a stable decision id from the proposing event.
func DecisionID(roomID string, offset int64) string {
	return uuid.NewSHA1(decisionNamespace, []byte(fmt.Sprintf("%s:%d", roomID, offset))).String()
}

// OpenParams describes a new decision.
type OpenParams struct {
	ID        string
	SessionID string
	Title     string
	Options   []string
	Quorum    int
	Deadline  time.Time
	TieBreak  domain.TieBreakPolicy
	CreatedAt time.Time
}

// Open creates a decision accepting votes.
func Open(p OpenParams) (*domain.Decision, error) {
	if len(p.Options) < 2 {
		return nil, domain.Malformed("decision needs at least 2 options, got %d", len(p.Options))
	}
	if p.Quorum < 1 {
		return nil, domain.Malformed("quorum must be at least 1, got %d", p.Quorum)
	}
	if !p.Deadline.After(p.CreatedAt) {
		return nil, domain.Malformed("deadline must be after creation")
	}
	tieBreak := p.TieBreak
	if tieBreak == "" {
		tieBreak = domain.TieBreakLowestIndex
	}
	if tieBreak != domain.TieBreakLowestIndex {
		return nil, domain.Malformed("unsupported tie_break_policy %q", tieBreak)
	}
	options := make([]string, len(p.Options))
	copy(options, p.Options)
	return &domain.Decision{
		ID:              p.ID,
		SessionID:       p.SessionID,
		Title:           p.Title,
		Options:         options,
		QuorumThreshold: p.Quorum,
		Deadline:        p.Deadline,
		Status:          domain.DecisionStatusOpen,
		TieBreakPolicy:  tieBreak,
		CreatedAt:       p.CreatedAt,
		Votes:           make(map[string]domain.Vote),
	}, nil
}

// Cast records a vote. A vote older than the voter's current one is ignored
// and reported as not applied; equal cast_at lets the later arrival win.
func Cast(d *domain.Decision, v domain.Vote) (bool, error) {
	if d.Status != domain.DecisionStatusOpen {
		return false, domain.ErrDecisionClosed
	}
	if v.VoterID == "" {
		return false, domain.Malformed("vote without voter")
	}
	if v.Choice < 0 || v.Choice >= len(d.Options) {
		return false, domain.Malformed("choice %d out of range for %d options", v.Choice, len(d.Options))
	}
	if prev, ok := d.Votes[v.VoterID]; ok && prev.CastAt.After(v.CastAt) {
		return false, nil
	}
	if d.Votes == nil {
		d.Votes = make(map[string]domain.Vote)
	}
	v.DecisionID = d.ID
	d.Votes[v.VoterID] = v
	return true, nil
}

// Tally counts the current votes. Winner is set only once quorum is met.
func Tally(d *domain.Decision) domain.Tally {
	t := domain.Tally{Counts: make([]int, len(d.Options))}
	for _, v := range d.Votes {
		t.Counts[v.Choice]++
	}
	t.Voters = len(d.Votes)
	t.QuorumMet = t.Voters >= d.QuorumThreshold

	best := -1
	for i, c := range t.Counts {
		if best < 0 || c > t.Counts[best] {
			best = i
		}
	}
	for i, c := range t.Counts {
		if c == t.Counts[best] {
			t.TiedOptions = append(t.TiedOptions, i)
		}
	}
	t.Tie = len(t.TiedOptions) > 1
	if !t.Tie {
		t.TiedOptions = nil
	}
	if t.QuorumMet {
		// lowest_index: the first option holding the top count wins.
		w := best
		t.Winner = &w
	}
	return t
}

// Resolve closes the decision when quorum is met. It reports whether the
// decision was resolved.
func Resolve(d *domain.Decision, at time.Time) bool {
	if d.Status != domain.DecisionStatusOpen {
		return false
	}
	t := Tally(d)
	if !t.QuorumMet {
		return false
	}
	d.Status = domain.DecisionStatusResolved
	d.Winner = t.Winner
	d.ResolvedBy = domain.ResolvedByPlurality
	if t.Tie {
		d.ResolvedBy = domain.ResolvedByTieBreak
	}
	d.ClosedAt = &at
	return true
}

// Expire closes an open decision whose deadline has passed at the given time.
func Expire(d *domain.Decision, at time.Time) bool {
	if d.Status != domain.DecisionStatusOpen || at.Before(d.Deadline) {
		return false
	}
	d.Status = domain.DecisionStatusExpired
	d.ClosedAt = &at
	return true
}

// Cancel discards an open decision.
func Cancel(d *domain.Decision, at time.Time) bool {
	if d.Status != domain.DecisionStatusOpen {
		return false
	}
	d.Status = domain.DecisionStatusCancelled
	d.ClosedAt = &at
	return true
}
