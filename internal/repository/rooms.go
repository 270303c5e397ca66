package store

import (
	"context"
	"database/sql"

	"github.com/PManghan91/boardroom/internal/domain"
)

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	var degraded int
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, status, degraded, head_offset, created_at FROM rooms WHERE room_id = ?`,
		roomID).Scan(&room.RoomID, &room.Status, &degraded, &room.HeadOffset, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	room.Degraded = degraded != 0
	room.CreatedAt = fromMillis(createdAt)
	return &room, nil
}

// ListRooms lists rooms in creation order.
func (s *SQLiteStore) ListRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, status, degraded, head_offset, created_at FROM rooms ORDER BY created_at, room_id LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		var room domain.Room
		var degraded int
		var createdAt int64
		if err := rows.Scan(&room.RoomID, &room.Status, &degraded, &room.HeadOffset, &createdAt); err != nil {
			return nil, err
		}
		room.Degraded = degraded != 0
		room.CreatedAt = fromMillis(createdAt)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// TerminateRoom marks a room terminated. It reports false when the room was
// already terminated or does not exist.
func (s *SQLiteStore) TerminateRoom(ctx context.Context, roomID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = ? WHERE room_id = ? AND status != ?`,
		domain.RoomStatusTerminated, roomID, domain.RoomStatusTerminated)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClearDegradedIfResolved clears the degraded flag once every dead letter of
// the room has been replayed.
func (s *SQLiteStore) ClearDegradedIfResolved(ctx context.Context, roomID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms SET degraded = 0
		WHERE room_id = ? AND degraded = 1
		  AND NOT EXISTS (SELECT 1 FROM dead_letters WHERE room_id = ? AND replayed_at IS NULL)
	`, roomID, roomID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CountDegradedRooms returns the number of rooms flagged degraded.
func (s *SQLiteStore) CountDegradedRooms(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE degraded = 1`).Scan(&n)
	return n, err
}
