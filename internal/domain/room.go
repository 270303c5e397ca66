package domain

import "time"

// Room is a persistent boardroom identity. Rooms are never deleted.
type Room struct {
	RoomID     string     `json:"room_id"`
	Status     RoomStatus `json:"status"`
	Degraded   bool       `json:"degraded"`
	HeadOffset int64      `json:"head_offset"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Agent is a named participant. The domain selects its capability.
type Agent struct {
	ID     string `json:"id" yaml:"id"`
	Domain string `json:"domain" yaml:"domain"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Contribution is one agent's input to a round.
type Contribution struct {
	AgentID string    `json:"agent_id"`
	Content string    `json:"content"`
	Source  string    `json:"source"` // "dispatch" or "event"
	Offset  int64     `json:"offset"`
	At      time.Time `json:"at"`
}

// Round is one pass of agent contributions within a session.
type Round struct {
	Number        int                     `json:"round_number"`
	StartedAt     time.Time               `json:"started_at"`
	Deadline      *time.Time              `json:"deadline,omitempty"`
	Contributions map[string]Contribution `json:"contributions"`
	Degraded      []string                `json:"degraded,omitempty"`
	Status        RoundStatus             `json:"status"`
}

// Session is one deliberation instance for a room.
type Session struct {
	ID             string        `json:"id"`
	Topic          string        `json:"topic,omitempty"`
	Status         SessionStatus `json:"status"`
	Round          int           `json:"round"`
	Rounds         []Round       `json:"rounds"`
	Decisions      []*Decision   `json:"decisions,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	PausedAt       *time.Time    `json:"paused_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	EndReason      string        `json:"end_reason,omitempty"`
	RoundTimeoutMs int64         `json:"round_timeout_ms"`
}

// CurrentRound returns the open round, or nil when the session has none.
func (s *Session) CurrentRound() *Round {
	if s == nil || len(s.Rounds) == 0 {
		return nil
	}
	return &s.Rounds[len(s.Rounds)-1]
}

// Decision returns the session's decision with the given id.
func (s *Session) Decision(id string) *Decision {
	if s == nil {
		return nil
	}
	for _, d := range s.Decisions {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// OpenDecision returns the decision still accepting votes, if any.
func (s *Session) OpenDecision() *Decision {
	if s == nil {
		return nil
	}
	for _, d := range s.Decisions {
		if d.Status == DecisionStatusOpen {
			return d
		}
	}
	return nil
}

// SessionSummary is the archived record of a finished session.
type SessionSummary struct {
	ID         string        `json:"id"`
	Topic      string        `json:"topic,omitempty"`
	Status     SessionStatus `json:"status"`
	Rounds     int           `json:"rounds"`
	DecisionID string        `json:"decision_id,omitempty"`
	Winner     *int          `json:"winner,omitempty"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}
