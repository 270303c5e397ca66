package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/PManghan91/boardroom/internal/domain"
)

// CommitSnapshot atomically replaces the current snapshot of a room together
// with its decision, vote and timer projections. The write only applies when
// it advances last_committed_offset, so re-committing an offset is a no-op.
// It reports whether the snapshot was written.
func (s *SQLiteStore) CommitSnapshot(ctx context.Context, commit *SnapshotCommit) (bool, error) {
	snap := commit.Snapshot
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO snapshots (room_id, last_committed_offset, session_state, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(room_id) DO UPDATE SET
				last_committed_offset = excluded.last_committed_offset,
				session_state = excluded.session_state,
				created_at = excluded.created_at
			WHERE excluded.last_committed_offset > snapshots.last_committed_offset`,
			snap.RoomID, snap.LastCommittedOffset, string(snap.SessionState), toMillis(snap.CreatedAt))
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		applied = true

		for _, d := range commit.Decisions {
			if err := upsertDecision(ctx, tx, snap.RoomID, d); err != nil {
				return err
			}
		}

		if commit.NextDue == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM room_timers WHERE room_id = ?`, snap.RoomID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO room_timers (room_id, due_at) VALUES (?, ?)
				ON CONFLICT(room_id) DO UPDATE SET due_at = excluded.due_at`,
				snap.RoomID, toMillis(*commit.NextDue))
		}
		if err != nil {
			return fmt.Errorf("project timer: %w", err)
		}
		return nil
	})
	return applied, err
}

// upsertDecision projects a decision and its votes. A decision row never
// leaves a closed status.
func upsertDecision(ctx context.Context, tx *sql.Tx, roomID string, d *domain.Decision) error {
	options, err := json.Marshal(d.Options)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, room_id, session_id, title, options, quorum_threshold, deadline,
			status, tie_break_policy, winner, resolved_by, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			status = excluded.status,
			winner = excluded.winner,
			resolved_by = excluded.resolved_by,
			closed_at = excluded.closed_at
		WHERE decisions.status = ?`,
		d.ID, roomID, d.SessionID, d.Title, string(options), d.QuorumThreshold, toMillis(d.Deadline),
		d.Status, d.TieBreakPolicy, nullInt(d.Winner), nullString(d.ResolvedBy), toMillis(d.CreatedAt),
		nullMillis(d.ClosedAt), domain.DecisionStatusOpen)
	if err != nil {
		return fmt.Errorf("project decision %s: %w", d.ID, err)
	}
	for _, v := range d.Votes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO votes (decision_id, voter_id, choice, cast_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(decision_id, voter_id) DO UPDATE SET
				choice = excluded.choice,
				cast_at = excluded.cast_at
			WHERE excluded.cast_at >= votes.cast_at`,
			d.ID, v.VoterID, v.Choice, toMillis(v.CastAt)); err != nil {
			return fmt.Errorf("project vote %s/%s: %w", d.ID, v.VoterID, err)
		}
	}
	return nil
}

// GetSnapshot retrieves the current snapshot of a room.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var state string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, last_committed_offset, session_state, created_at FROM snapshots WHERE room_id = ?`,
		roomID).Scan(&snap.RoomID, &snap.LastCommittedOffset, &state, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.SessionState = json.RawMessage(state)
	snap.CreatedAt = fromMillis(createdAt)
	return &snap, nil
}
