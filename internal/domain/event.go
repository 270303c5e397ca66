package domain

import (
	"encoding/json"
	"time"
)

// Event is an immutable record in a room's log.
type Event struct {
	RoomID      string          `json:"room_id"`
	Offset      int64           `json:"offset"`
	Author      string          `json:"author"`
	Payload     json.RawMessage `json:"payload"`
	ClientMsgID string          `json:"client_msg_id,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

// Envelope carries the fields common to every payload.
type Envelope struct {
	Type EventType `json:"type"`
}

// Type decodes the payload's type field.
func (e Event) Type() (EventType, error) {
	var env Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
