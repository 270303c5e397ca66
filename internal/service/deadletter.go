package service

import (
	"context"
	"fmt"

	"github.com/PManghan91/boardroom/internal/domain"
	store "github.com/PManghan91/boardroom/internal/repository"
)

// ReplayResult reports a dead-letter replay.
type ReplayResult struct {
	DeadLetterID  int64  `json:"dead_letter_id"`
	RoomID        string `json:"room_id"`
	Offset        int64  `json:"offset"`
	RoomRecovered bool   `json:"room_recovered"`
}

// ListDeadLetters lists dead letters matching filter.
func (s *Service) ListDeadLetters(ctx context.Context, filter store.DeadLetterFilter) ([]domain.DeadLetter, error) {
	return s.store.ListDeadLetters(ctx, filter)
}

// ReplayDeadLetter re-appends a dead letter's payload as a new event of its
// room. Replaying twice appends once. The room's degraded flag clears once
// none of its dead letters remain unreplayed.
func (s *Service) ReplayDeadLetter(ctx context.Context, id int64) (*ReplayResult, error) {
	dl, err := s.store.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	if dl == nil {
		return nil, domain.ErrDeadLetterMissing
	}
	if dl.ReplayedAt != nil {
		return nil, domain.ErrAlreadyReplayed
	}

	res, err := s.gateway.Append(ctx, domain.AppendRequest{
		RoomID:      dl.RoomID,
		Author:      dl.Author,
		Payload:     dl.Payload,
		ClientMsgID: fmt.Sprintf("replay:%d", dl.ID),
	})
	if err != nil {
		return nil, err
	}
	marked, err := s.store.MarkDeadLetterReplayed(ctx, id, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark dead letter replayed: %w", err)
	}
	if !marked {
		return nil, domain.ErrAlreadyReplayed
	}
	recovered, err := s.store.ClearDegradedIfResolved(ctx, dl.RoomID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear degraded flag: %w", err)
	}
	s.logger.Info("dead letter replayed", "dead_letter_id", id, "room_id", dl.RoomID,
		"original_offset", dl.Offset, "offset", res.Offset, "room_recovered", recovered)
	return &ReplayResult{DeadLetterID: id, RoomID: dl.RoomID, Offset: res.Offset, RoomRecovered: recovered}, nil
}
