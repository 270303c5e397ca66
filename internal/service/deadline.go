package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

// TimerAuthor is the author of timer events appended by the deadline monitor.
const TimerAuthor = "system:timer"

// RunDeadlineMonitor appends a timer event to every room whose next deadline
// has passed, until ctx is done.
func (s *Service) RunDeadlineMonitor(ctx context.Context) {
	ticker := s.clock.Ticker(s.config.TimerSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepDeadlines(ctx)
		}
	}
}

// sweepDeadlines enqueues one timer event per due room. The client_msg_id is
// derived from the deadline, so repeated sweeps before the room catches up
// append nothing new.
func (s *Service) sweepDeadlines(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	due, err := s.store.ListDueTimers(sweepCtx, s.clock.Now(), 100)
	if err != nil {
		s.logger.Warn("deadline sweep failed", "error", err)
		return 0
	}

	appended := 0
	for _, t := range due {
		dueMs := t.DueAt.UnixMilli()
		payload, _ := json.Marshal(map[string]any{
			"type":   domain.EventTypeTimer,
			"due_at": dueMs,
		})
		res, err := s.gateway.Append(sweepCtx, domain.AppendRequest{
			RoomID:      t.RoomID,
			Author:      TimerAuthor,
			Payload:     payload,
			ClientMsgID: fmt.Sprintf("timer:%d", dueMs),
		})
		switch {
		case err == nil:
			if !res.Duplicate {
				appended++
				s.logger.Debug("timer event appended", "room_id", t.RoomID, "due_at", t.DueAt, "offset", res.Offset)
			}
		case errors.Is(err, domain.ErrAppendRejected), errors.Is(err, domain.ErrResourceExhausted):
			s.logger.Debug("timer event not appended", "room_id", t.RoomID, "error", err)
		default:
			s.logger.Warn("failed to append timer event", "room_id", t.RoomID, "error", err)
		}
	}
	return appended
}
