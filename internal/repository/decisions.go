package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/PManghan91/boardroom/internal/domain"
)

const decisionColumns = `decision_id, session_id, title, options, quorum_threshold, deadline, status,
	tie_break_policy, winner, resolved_by, created_at, closed_at`

func scanDecision(scan func(dest ...any) error) (*domain.Decision, error) {
	var d domain.Decision
	var options string
	var deadline, createdAt int64
	var winner, closedAt sql.NullInt64
	var resolvedBy sql.NullString
	if err := scan(&d.ID, &d.SessionID, &d.Title, &options, &d.QuorumThreshold, &deadline, &d.Status,
		&d.TieBreakPolicy, &winner, &resolvedBy, &createdAt, &closedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &d.Options); err != nil {
		return nil, err
	}
	d.Deadline = fromMillis(deadline)
	d.CreatedAt = fromMillis(createdAt)
	d.ClosedAt = millisPtr(closedAt)
	if winner.Valid {
		w := int(winner.Int64)
		d.Winner = &w
	}
	if resolvedBy.Valid {
		d.ResolvedBy = resolvedBy.String
	}
	return &d, nil
}

// GetDecision retrieves a projected decision with its votes.
func (s *SQLiteStore) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE decision_id = ?`, decisionID)
	d, err := scanDecision(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	votes, err := s.listVotes(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	d.Votes = votes
	return d, nil
}

// ListDecisions lists the projected decisions of a room with their votes.
func (s *SQLiteStore) ListDecisions(ctx context.Context, roomID string) ([]domain.Decision, error) {
	out, err := s.listDecisionRows(ctx, roomID)
	if err != nil {
		return nil, err
	}
	// Votes are read after the decision rows are closed; an in-memory store
	// has a single connection.
	for i := range out {
		votes, err := s.listVotes(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Votes = votes
	}
	return out, nil
}

func (s *SQLiteStore) listDecisionRows(ctx context.Context, roomID string) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE room_id = ? ORDER BY created_at, decision_id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) listVotes(ctx context.Context, decisionID string) (map[string]domain.Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT voter_id, choice, cast_at FROM votes WHERE decision_id = ?`, decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := make(map[string]domain.Vote)
	for rows.Next() {
		v := domain.Vote{DecisionID: decisionID}
		var castAt int64
		if err := rows.Scan(&v.VoterID, &v.Choice, &castAt); err != nil {
			return nil, err
		}
		v.CastAt = fromMillis(castAt)
		votes[v.VoterID] = v
	}
	return votes, rows.Err()
}
