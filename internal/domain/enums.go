// Package domain defines the core domain models for the boardroom processor.
package domain

// RoomStatus represents the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusActive     RoomStatus = "ACTIVE"
	RoomStatusTerminated RoomStatus = "TERMINATED"
)

// Phase is the deliberation state of a room.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseProposing    Phase = "PROPOSING"
	PhaseDeliberating Phase = "DELIBERATING"
	PhaseVoting       Phase = "VOTING"
	PhaseResolved     Phase = "RESOLVED"
	PhaseExpired      Phase = "EXPIRED"
)

// SessionStatus represents the status of a deliberation session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusResolved  SessionStatus = "RESOLVED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// RoundStatus represents the status of a contribution round.
type RoundStatus string

const (
	RoundStatusOpen     RoundStatus = "OPEN"
	RoundStatusComplete RoundStatus = "COMPLETE"
	RoundStatusTimedOut RoundStatus = "TIMED_OUT"
)

// DecisionStatus represents the status of a decision.
type DecisionStatus string

const (
	DecisionStatusOpen      DecisionStatus = "OPEN"
	DecisionStatusResolved  DecisionStatus = "RESOLVED"
	DecisionStatusExpired   DecisionStatus = "EXPIRED"
	DecisionStatusCancelled DecisionStatus = "CANCELLED"
)

// TieBreakPolicy selects the winner when quorum is met without a strict plurality.
type TieBreakPolicy string

const (
	TieBreakLowestIndex TieBreakPolicy = "lowest_index"
)

// EventType is the "type" field of an event payload.
type EventType string

const (
	EventTypeStartSession      EventType = "start_session"
	EventTypeJoin              EventType = "join"
	EventTypeAgentContribution EventType = "agent_contribution"
	EventTypeNextRound         EventType = "next_round"
	EventTypeProposeDecision   EventType = "propose_decision"
	EventTypeCastVote          EventType = "cast_vote"
	EventTypePauseSession      EventType = "pause_session"
	EventTypeResumeSession     EventType = "resume_session"
	EventTypeCancelSession     EventType = "cancel_session"
	EventTypeTimer             EventType = "timer"
)

// ResolvedBy records how a decision winner was chosen.
const (
	ResolvedByPlurality = "plurality"
	ResolvedByTieBreak  = "tie_break"
)
