package service

import (
	"context"
	"fmt"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/voting"
)

// DecisionView is a projected decision with its current tally.
type DecisionView struct {
	*domain.Decision
	Tally domain.Tally `json:"tally"`
}

// GetSnapshot returns the room's last committed snapshot. Only committed
// state is ever visible.
func (s *Service) GetSnapshot(ctx context.Context, roomID string) (*domain.SnapshotResponse, error) {
	snap, err := s.store.GetSnapshot(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if snap == nil {
		return nil, domain.ErrRoomNotFound
	}
	return &domain.SnapshotResponse{
		RoomID:              snap.RoomID,
		LastCommittedOffset: snap.LastCommittedOffset,
		SessionState:        snap.SessionState,
		CreatedAt:           snap.CreatedAt.UnixMilli(),
	}, nil
}

// Health reports processing status. The status is "degraded" while any room
// carries unreplayed dead letters.
func (s *Service) Health(ctx context.Context) (*domain.Health, error) {
	dead, err := s.store.CountDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	degraded, err := s.store.CountDegradedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count degraded rooms: %w", err)
	}
	h := &domain.Health{
		Status:            "ok",
		RoomsInFlight:     s.pool.InFlight(),
		DeadLetteredCount: dead,
		DegradedRooms:     degraded,
	}
	if degraded > 0 {
		h.Status = "degraded"
	}
	return h, nil
}

// GetDecision returns a projected decision and its tally.
func (s *Service) GetDecision(ctx context.Context, decisionID string) (*DecisionView, error) {
	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	if d == nil {
		return nil, domain.ErrDecisionNotFound
	}
	return &DecisionView{Decision: d, Tally: voting.Tally(d)}, nil
}

// ListDecisions lists the projected decisions of a room, oldest first.
func (s *Service) ListDecisions(ctx context.Context, roomID string) ([]DecisionView, error) {
	list, err := s.store.ListDecisions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	out := make([]DecisionView, 0, len(list))
	for i := range list {
		d := &list[i]
		out = append(out, DecisionView{Decision: d, Tally: voting.Tally(d)})
	}
	return out, nil
}
