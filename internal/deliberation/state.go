// Package deliberation drives the per-room deliberation state machine.
package deliberation

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

// maxHistory bounds the archived session summaries kept per room.
const maxHistory = 50

// RoomState is the full deliberation state of one room. It is owned by the
// worker holding the room's claim and is what a snapshot serializes.
type RoomState struct {
	RoomID     string                  `json:"room_id"`
	Phase      domain.Phase            `json:"phase"`
	Agents     []domain.Agent          `json:"agents"`
	Session    *domain.Session         `json:"session,omitempty"`
	History    []domain.SessionSummary `json:"history,omitempty"`
	LastOffset int64                   `json:"last_offset"`

	// closed holds the decisions of a session archived by the event being
	// applied, so the commit that follows still projects their final status.
	closed []*domain.Decision
}

// NewRoomState returns the initial Idle state of a room.
func NewRoomState(roomID string) *RoomState {
	return &RoomState{RoomID: roomID, Phase: domain.PhaseIdle, Agents: []domain.Agent{}}
}

// Marshal serializes the state. Map keys are sorted, so equal states produce
// equal bytes.
func (s *RoomState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Restore decodes a snapshot's session_state.
func Restore(roomID string, data []byte) (*RoomState, error) {
	st := NewRoomState(roomID)
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode room state %s: %w", roomID, err)
	}
	if st.RoomID == "" {
		st.RoomID = roomID
	}
	return st, nil
}

// Agent returns the room agent with the given id.
func (s *RoomState) Agent(id string) (domain.Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Agent{}, false
}

// NextDue returns the earliest deadline that will change the state without
// further input, or nil. Paused sessions have none.
func (s *RoomState) NextDue() *time.Time {
	sess := s.Session
	if sess == nil || sess.Status != domain.SessionStatusActive {
		return nil
	}
	switch s.Phase {
	case domain.PhaseProposing:
		if r := sess.CurrentRound(); r != nil && r.Deadline != nil {
			due := *r.Deadline
			return &due
		}
	case domain.PhaseVoting:
		if d := sess.OpenDecision(); d != nil {
			due := d.Deadline
			return &due
		}
	}
	return nil
}

// Decisions returns the decisions to project: those of a session archived by
// the last applied event, then the current session's.
func (s *RoomState) Decisions() []*domain.Decision {
	out := append([]*domain.Decision(nil), s.closed...)
	if s.Session != nil {
		out = append(out, s.Session.Decisions...)
	}
	return out
}

// roundComplete reports whether every room agent has contributed to or been
// degraded out of the current round.
func (s *RoomState) roundComplete() bool {
	r := s.Session.CurrentRound()
	if r == nil {
		return false
	}
	degraded := make(map[string]bool, len(r.Degraded))
	for _, id := range r.Degraded {
		degraded[id] = true
	}
	for _, a := range s.Agents {
		if _, ok := r.Contributions[a.ID]; !ok && !degraded[a.ID] {
			return false
		}
	}
	return true
}

// priorContributions lists earlier rounds' contributions, oldest round first.
func (s *RoomState) priorContributions() []domain.Contribution {
	var out []domain.Contribution
	for _, r := range s.Session.Rounds[:len(s.Session.Rounds)-1] {
		ids := make([]string, 0, len(r.Contributions))
		for id := range r.Contributions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			out = append(out, r.Contributions[id])
		}
	}
	return out
}

// archive moves the finished session into history and returns to Idle.
func (s *RoomState) archive() {
	sess := s.Session
	if sess == nil {
		s.Phase = domain.PhaseIdle
		return
	}
	summary := domain.SessionSummary{
		ID:      sess.ID,
		Topic:   sess.Topic,
		Status:  sess.Status,
		Rounds:  len(sess.Rounds),
		EndedAt: sess.EndedAt,
	}
	if n := len(sess.Decisions); n > 0 {
		last := sess.Decisions[n-1]
		summary.DecisionID = last.ID
		summary.Winner = last.Winner
	}
	s.History = append(s.History, summary)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
	s.closed = append(s.closed, sess.Decisions...)
	s.Session = nil
	s.Phase = domain.PhaseIdle
}
