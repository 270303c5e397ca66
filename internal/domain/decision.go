package domain

import "time"

// Decision is a question put to a vote within a session.
type Decision struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	Title           string          `json:"title"`
	Options         []string        `json:"options"`
	QuorumThreshold int             `json:"quorum_threshold"`
	Deadline        time.Time       `json:"deadline"`
	Status          DecisionStatus  `json:"status"`
	TieBreakPolicy  TieBreakPolicy  `json:"tie_break_policy"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	Winner          *int            `json:"winner,omitempty"`
	ResolvedBy      string          `json:"resolved_by,omitempty"`
	Votes           map[string]Vote `json:"votes"`
}

// Vote is one voter's current choice. One per (decision, voter).
type Vote struct {
	DecisionID string    `json:"decision_id"`
	VoterID    string    `json:"voter_id"`
	Choice     int       `json:"choice"`
	CastAt     time.Time `json:"cast_at"`
}

// Tally is the computed result of a decision's votes.
type Tally struct {
	Counts      []int `json:"counts"`
	Voters      int   `json:"voters"`
	QuorumMet   bool  `json:"quorum_met"`
	Winner      *int  `json:"winner,omitempty"`
	Tie         bool  `json:"tie"`
	TiedOptions []int `json:"tied_options,omitempty"`
}
