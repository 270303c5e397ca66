package store

import (
	"context"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

// ListDueTimers lists active rooms whose next deadline is at or before now.
func (s *SQLiteStore) ListDueTimers(ctx context.Context, now time.Time, limit int) ([]domain.RoomTimer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.room_id, t.due_at
		FROM room_timers t JOIN rooms r ON r.room_id = t.room_id
		WHERE t.due_at <= ? AND r.status = ?
		ORDER BY t.due_at ASC, t.room_id ASC
		LIMIT ?`, toMillis(now), domain.RoomStatusActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoomTimer
	for rows.Next() {
		var t domain.RoomTimer
		var due int64
		if err := rows.Scan(&t.RoomID, &due); err != nil {
			return nil, err
		}
		t.DueAt = fromMillis(due)
		out = append(out, t)
	}
	return out, rows.Err()
}
