package service

import (
	"context"
	"fmt"

	"github.com/PManghan91/boardroom/internal/domain"
)

// Append appends an inbound event to its room's log.
func (s *Service) Append(ctx context.Context, req domain.AppendRequest) (*domain.AppendResponse, error) {
	return s.gateway.Append(ctx, req)
}

// GetRoom returns a room or ErrRoomNotFound.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// ListRooms lists known rooms.
func (s *Service) ListRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	return s.store.ListRooms(ctx, limit)
}

// TerminateRoom stops a room from accepting further appends. Events already
// in its log are still processed.
func (s *Service) TerminateRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	changed, err := s.store.TerminateRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate room: %w", err)
	}
	if changed {
		s.logger.Info("room terminated", "room_id", roomID)
	}
	return s.GetRoom(ctx, roomID)
}
