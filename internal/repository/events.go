package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/PManghan91/boardroom/internal/domain"
)

// AppendEvent assigns the next offset of the room and inserts the event in a
// single transaction. The room row is created on first append. The event
// becomes readable only after commit.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.Event, opts AppendOptions) (*AppendResult, error) {
	var result AppendResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := toMillis(event.EnqueuedAt)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (room_id, head_offset, status, degraded, created_at) VALUES (?, 0, ?, 0, ?)
			 ON CONFLICT(room_id) DO NOTHING`,
			event.RoomID, domain.RoomStatusActive, now); err != nil {
			return fmt.Errorf("ensure room: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO consumer_offsets (room_id, updated_at) VALUES (?, ?) ON CONFLICT(room_id) DO NOTHING`,
			event.RoomID, now); err != nil {
			return fmt.Errorf("ensure cursor: %w", err)
		}

		var status domain.RoomStatus
		var head, acked int64
		err := tx.QueryRowContext(ctx, `
			SELECT r.status, r.head_offset, c.last_acked
			FROM rooms r JOIN consumer_offsets c ON c.room_id = r.room_id
			WHERE r.room_id = ?`, event.RoomID).Scan(&status, &head, &acked)
		if err != nil {
			return fmt.Errorf("read room head: %w", err)
		}
		if status == domain.RoomStatusTerminated {
			return domain.ErrAppendRejected
		}

		if event.ClientMsgID != "" {
			var existing int64
			err := tx.QueryRowContext(ctx, `
				SELECT event_offset FROM events
				WHERE room_id = ? AND client_msg_id = ? AND enqueued_at >= ?
				ORDER BY event_offset LIMIT 1`,
				event.RoomID, event.ClientMsgID, toMillis(opts.DedupSince)).Scan(&existing)
			if err == nil {
				result = AppendResult{Offset: existing, Duplicate: true}
				return nil
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("dedup lookup: %w", err)
			}
		}

		if opts.MaxPending > 0 && head-acked >= opts.MaxPending {
			return domain.ErrBackpressure
		}

		next := head + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (room_id, event_offset, author, payload, client_msg_id, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`,
			event.RoomID, next, event.Author, string(event.Payload), nullString(event.ClientMsgID), now); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE rooms SET head_offset = ? WHERE room_id = ? AND head_offset = ?`,
			next, event.RoomID, head)
		if err != nil {
			return fmt.Errorf("advance head: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.Conflict("room head moved during append", nil)
		}
		result = AppendResult{Offset: next}
		return nil
	})
	if err != nil {
		return nil, err
	}
	event.Offset = result.Offset
	return &result, nil
}

// ReadEvents returns up to limit events of a room after the given offset, in
// offset order.
func (s *SQLiteStore) ReadEvents(ctx context.Context, roomID string, afterOffset int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, event_offset, author, payload, client_msg_id, enqueued_at
		FROM events
		WHERE room_id = ? AND event_offset > ?
		ORDER BY event_offset ASC
		LIMIT ?`, roomID, afterOffset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload string
		var clientMsgID sql.NullString
		var enqueuedAt int64
		if err := rows.Scan(&ev.RoomID, &ev.Offset, &ev.Author, &payload, &clientMsgID, &enqueuedAt); err != nil {
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		if clientMsgID.Valid {
			ev.ClientMsgID = clientMsgID.String
		}
		ev.EnqueuedAt = fromMillis(enqueuedAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}
