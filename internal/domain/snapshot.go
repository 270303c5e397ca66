package domain

import (
	"encoding/json"
	"time"
)

// Snapshot is the durable checkpoint of a room. One current row per room.
type Snapshot struct {
	RoomID              string          `json:"room_id"`
	LastCommittedOffset int64           `json:"last_committed_offset"`
	SessionState        json.RawMessage `json:"session_state"`
	CreatedAt           time.Time       `json:"created_at"`
}

// DeadLetter is an event set aside for manual inspection and replay.
type DeadLetter struct {
	ID            int64           `json:"id"`
	RoomID        string          `json:"room_id"`
	Offset        int64           `json:"offset"`
	Author        string          `json:"author"`
	Payload       json.RawMessage `json:"payload"`
	FailureReason string          `json:"failure_reason"`
	Attempts      int             `json:"attempts"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	ReplayedAt    *time.Time      `json:"replayed_at,omitempty"`
}

// ConsumerOffset is the per-room consumer cursor.
type ConsumerOffset struct {
	RoomID        string     `json:"room_id"`
	LastClaimed   int64      `json:"last_claimed"`
	LastAcked     int64      `json:"last_acked"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	FirstFailedAt *time.Time `json:"first_failed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RoomTimer is the next due deadline of a room.
type RoomTimer struct {
	RoomID string    `json:"room_id"`
	DueAt  time.Time `json:"due_at"`
}

// Health is the readiness report of the processor.
type Health struct {
	Status            string `json:"status"`
	RoomsInFlight     int    `json:"rooms_in_flight"`
	DeadLetteredCount int    `json:"dead_lettered_count"`
	DegradedRooms     int    `json:"degraded_rooms"`
}
