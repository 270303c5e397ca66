package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

const insertDeadLetter = `
	INSERT INTO dead_letters (room_id, event_offset, author, payload, failure_reason, attempts, first_failed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(room_id, event_offset) DO UPDATE SET
		failure_reason = excluded.failure_reason,
		attempts = excluded.attempts`

func putDeadLetter(ctx context.Context, q queryer, dl *domain.DeadLetter) error {
	_, err := q.ExecContext(ctx, insertDeadLetter,
		dl.RoomID, dl.Offset, dl.Author, string(dl.Payload), dl.FailureReason, dl.Attempts, toMillis(dl.FirstFailedAt))
	if err != nil {
		return fmt.Errorf("dead-letter %s@%d: %w", dl.RoomID, dl.Offset, err)
	}
	return nil
}

// DeadLetterEvent records a single event that can never be applied. A
// repeated offset updates the existing entry.
func (s *SQLiteStore) DeadLetterEvent(ctx context.Context, dl *domain.DeadLetter) error {
	return putDeadLetter(ctx, s.db, dl)
}

// DeadLetterBatch moves an exhausted batch to the dead-letter table, flags the
// room degraded and acknowledges up to upTo, all in one transaction.
func (s *SQLiteStore) DeadLetterBatch(ctx context.Context, roomID string, letters []domain.DeadLetter, upTo int64, now time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range letters {
			if err := putDeadLetter(ctx, tx, &letters[i]); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE rooms SET degraded = 1 WHERE room_id = ?`, roomID); err != nil {
			return fmt.Errorf("mark degraded: %w", err)
		}
		if _, err := advanceAck(ctx, tx, roomID, upTo, now); err != nil {
			return fmt.Errorf("ack dead-lettered batch: %w", err)
		}
		return nil
	})
}

const deadLetterColumns = `id, room_id, event_offset, author, payload, failure_reason, attempts, first_failed_at, replayed_at`

func scanDeadLetter(scan func(dest ...any) error) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var payload string
	var firstFailed int64
	var replayed sql.NullInt64
	if err := scan(&dl.ID, &dl.RoomID, &dl.Offset, &dl.Author, &payload, &dl.FailureReason, &dl.Attempts, &firstFailed, &replayed); err != nil {
		return nil, err
	}
	dl.Payload = json.RawMessage(payload)
	dl.FirstFailedAt = fromMillis(firstFailed)
	dl.ReplayedAt = millisPtr(replayed)
	return &dl, nil
}

// GetDeadLetter retrieves a dead letter by ID.
func (s *SQLiteStore) GetDeadLetter(ctx context.Context, id int64) (*domain.DeadLetter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return dl, err
}

// ListDeadLetters lists dead letters, oldest first.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetter, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE 1=1`
	var args []any
	if filter.RoomID != "" {
		query += ` AND room_id = ?`
		args = append(args, filter.RoomID)
	}
	if !filter.IncludeReplayed {
		query += ` AND replayed_at IS NULL`
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

// MarkDeadLetterReplayed stamps a dead letter as replayed. It reports false
// when the entry was already replayed.
func (s *SQLiteStore) MarkDeadLetterReplayed(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letters SET replayed_at = ? WHERE id = ? AND replayed_at IS NULL`,
		toMillis(at), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountDeadLetters returns the number of dead letters awaiting replay.
func (s *SQLiteStore) CountDeadLetters(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE replayed_at IS NULL`).Scan(&n)
	return n, err
}
