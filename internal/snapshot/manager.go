// Package snapshot persists and restores room deliberation state.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/PManghan91/boardroom/internal/deliberation"
	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/metrics"
	store "github.com/PManghan91/boardroom/internal/repository"
)

// Store is the storage the manager needs.
type Store interface {
	CommitSnapshot(ctx context.Context, commit *store.SnapshotCommit) (bool, error)
	GetSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error)
}

// Publisher receives every snapshot that was actually written.
type Publisher interface {
	Publish(snap domain.Snapshot)
}

// Manager commits room states as snapshots.
type Manager struct {
	store     Store
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
}

// NewManager creates a snapshot manager. publisher may be nil.
func NewManager(s Store, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, publisher Publisher) *Manager {
	return &Manager{store: s, clock: clk, logger: logger, metrics: m, publisher: publisher}
}

// Commit writes st as the room's current snapshot at st.LastOffset, together
// with its decision projections and next deadline. A commit at an offset not
// past the stored one changes nothing and reports false.
func (m *Manager) Commit(ctx context.Context, st *deliberation.RoomState) (bool, error) {
	state, err := st.Marshal()
	if err != nil {
		return false, fmt.Errorf("encode room state %s: %w", st.RoomID, err)
	}
	snap := domain.Snapshot{
		RoomID:              st.RoomID,
		LastCommittedOffset: st.LastOffset,
		SessionState:        state,
		CreatedAt:           m.clock.Now().UTC(),
	}
	applied, err := m.store.CommitSnapshot(ctx, &store.SnapshotCommit{
		Snapshot:  snap,
		Decisions: st.Decisions(),
		NextDue:   st.NextDue(),
	})
	if err != nil {
		m.metrics.IncSnapshot("error")
		return false, fmt.Errorf("commit snapshot %s@%d: %w", st.RoomID, st.LastOffset, err)
	}
	if !applied {
		m.metrics.IncSnapshot("skipped")
		m.logger.Debug("snapshot already at or past offset", "room_id", st.RoomID, "offset", st.LastOffset)
		return false, nil
	}
	m.metrics.IncSnapshot("written")
	if m.publisher != nil {
		m.publisher.Publish(snap)
	}
	return true, nil
}

// Restore loads the room's last committed state. A room without a snapshot
// starts Idle at offset 0.
func (m *Manager) Restore(ctx context.Context, roomID string) (*deliberation.RoomState, error) {
	snap, err := m.store.GetSnapshot(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", roomID, err)
	}
	if snap == nil {
		return deliberation.NewRoomState(roomID), nil
	}
	st, err := deliberation.Restore(roomID, snap.SessionState)
	if err != nil {
		return nil, err
	}
	st.LastOffset = snap.LastCommittedOffset
	return st, nil
}
