package service

import (
	"context"

	"github.com/PManghan91/boardroom/internal/consumer"
	"github.com/PManghan91/boardroom/internal/domain"
)

// Process applies a claimed batch in offset order, committing a snapshot after
// every event. Offsets already covered by the room's snapshot are skipped, so
// a redelivered range has no further effect. It returns the highest offset
// whose snapshot is committed.
func (s *Service) Process(ctx context.Context, b *consumer.Batch) (int64, error) {
	roomID := b.RoomID()
	holder := b.Claim.Token
	committed := b.Acked

	st, err := s.arena.Checkout(ctx, roomID, holder)
	if err != nil {
		return committed, err
	}
	fail := func(err error) (int64, error) {
		s.arena.Discard(roomID, holder)
		s.metrics.IncProcessed("failed")
		return committed, err
	}

	for _, ev := range b.Events {
		if ev.Offset <= st.LastOffset {
			s.metrics.IncProcessed("skipped")
			s.logger.Debug("offset already applied", "room_id", roomID, "offset", ev.Offset, "snapshot_offset", st.LastOffset)
			committed = ev.Offset
			continue
		}
		if err := s.pool.Renew(b); err != nil {
			return fail(err)
		}

		applyErr := s.machine.Apply(ctx, st, ev)
		switch kind := domain.Classify(applyErr); kind {
		case domain.KindNone:
			s.metrics.IncProcessed("applied")
		case domain.KindMalformed:
			if err := s.pool.DeadLetterEvent(ctx, b, ev, applyErr); err != nil {
				return fail(err)
			}
			s.metrics.IncProcessed("malformed")
		case domain.KindStateConflict:
			s.metrics.IncProcessed("conflict")
			s.logger.Warn("event ignored", "room_id", roomID, "offset", ev.Offset, "author", ev.Author, "reason", applyErr)
		default:
			s.logger.Warn("event failed", "room_id", roomID, "offset", ev.Offset, "kind", kind, "error", applyErr)
			return fail(applyErr)
		}

		st.LastOffset = ev.Offset
		if err := s.pool.Validate(b); err != nil {
			return fail(err)
		}
		if _, err := s.snapshots.Commit(ctx, st); err != nil {
			return fail(err)
		}
		committed = ev.Offset
	}

	s.arena.Checkin(roomID, holder, st)
	return committed, nil
}
