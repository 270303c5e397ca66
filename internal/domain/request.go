package domain

import "encoding/json"

// AppendRequest is the ingestion envelope.
type AppendRequest struct {
	RoomID      string          `json:"room_id"`
	Author      string          `json:"author"`
	Payload     json.RawMessage `json:"payload"`
	ClientMsgID string          `json:"client_msg_id,omitempty"`
}

// AppendResponse is returned once an event is durably appended.
type AppendResponse struct {
	RoomID    string `json:"room_id"`
	Offset    int64  `json:"offset"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// SnapshotResponse is the read view consumed by reporting collaborators.
type SnapshotResponse struct {
	RoomID              string          `json:"room_id"`
	LastCommittedOffset int64           `json:"last_committed_offset"`
	SessionState        json.RawMessage `json:"session_state"`
	CreatedAt           int64           `json:"created_at"`
}
