package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

const cursorColumns = `c.room_id, c.last_claimed, c.last_acked, c.attempts, c.next_attempt_at, c.first_failed_at, c.updated_at`

func scanCursor(scan func(dest ...any) error, extra ...any) (*domain.ConsumerOffset, error) {
	var co domain.ConsumerOffset
	var nextAttempt, firstFailed sql.NullInt64
	var updatedAt int64
	dest := append([]any{&co.RoomID, &co.LastClaimed, &co.LastAcked, &co.Attempts, &nextAttempt, &firstFailed, &updatedAt}, extra...)
	if err := scan(dest...); err != nil {
		return nil, err
	}
	co.NextAttemptAt = millisPtr(nextAttempt)
	co.FirstFailedAt = millisPtr(firstFailed)
	co.UpdatedAt = fromMillis(updatedAt)
	return &co, nil
}

// GetConsumerOffset retrieves the consumer cursor of a room.
func (s *SQLiteStore) GetConsumerOffset(ctx context.Context, roomID string) (*domain.ConsumerOffset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM consumer_offsets c WHERE c.room_id = ?`, roomID)
	co, err := scanCursor(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return co, err
}

// ListPendingRooms lists rooms with unacknowledged events whose retry delay
// has elapsed, oldest retry first.
func (s *SQLiteStore) ListPendingRooms(ctx context.Context, now time.Time, limit int) ([]PendingRoom, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cursorColumns+`, r.head_offset
		FROM consumer_offsets c JOIN rooms r ON r.room_id = c.room_id
		WHERE r.head_offset > c.last_acked
		  AND (c.next_attempt_at IS NULL OR c.next_attempt_at <= ?)
		ORDER BY COALESCE(c.next_attempt_at, 0) ASC, c.updated_at ASC, c.room_id ASC
		LIMIT ?`, toMillis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRoom
	for rows.Next() {
		var head int64
		co, err := scanCursor(rows.Scan, &head)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingRoom{RoomID: co.RoomID, HeadOffset: head, Cursor: *co})
	}
	return out, rows.Err()
}

// MarkClaimed records the highest offset handed to a worker.
func (s *SQLiteStore) MarkClaimed(ctx context.Context, roomID string, upTo int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE consumer_offsets SET last_claimed = MAX(last_claimed, ?) WHERE room_id = ?`,
		upTo, roomID)
	return err
}

// AdvanceAck moves the acknowledged cursor forward and clears retry state.
// It reports false when upTo does not advance the cursor.
func (s *SQLiteStore) AdvanceAck(ctx context.Context, roomID string, upTo int64, now time.Time) (bool, error) {
	return advanceAck(ctx, s.db, roomID, upTo, now)
}

func advanceAck(ctx context.Context, q queryer, roomID string, upTo int64, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE consumer_offsets
		SET last_acked = ?, last_claimed = MAX(last_claimed, ?), attempts = 0,
		    next_attempt_at = NULL, first_failed_at = NULL, updated_at = ?
		WHERE room_id = ? AND last_acked < ?`,
		upTo, upTo, toMillis(now), roomID, upTo)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordFailure increments the attempt counter of a room and schedules its
// next delivery. It returns the updated cursor.
func (s *SQLiteStore) RecordFailure(ctx context.Context, roomID string, nextAttemptAt, now time.Time) (*domain.ConsumerOffset, error) {
	var co *domain.ConsumerOffset
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE consumer_offsets
			SET attempts = attempts + 1, next_attempt_at = ?,
			    first_failed_at = COALESCE(first_failed_at, ?), updated_at = ?
			WHERE room_id = ?`,
			toMillis(nextAttemptAt), toMillis(now), toMillis(now), roomID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+cursorColumns+` FROM consumer_offsets c WHERE c.room_id = ?`, roomID)
		var err error
		co, err = scanCursor(row.Scan)
		if err == sql.ErrNoRows {
			return domain.ErrRoomNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return co, nil
}
