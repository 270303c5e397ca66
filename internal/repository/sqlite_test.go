package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PManghan91/boardroom/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendEvent(t *testing.T, s *SQLiteStore, roomID, clientMsgID string, at time.Time) *AppendResult {
	t.Helper()
	res, err := s.AppendEvent(context.Background(), &domain.Event{
		RoomID:      roomID,
		Author:      "alice",
		Payload:     json.RawMessage(`{"type":"join"}`),
		ClientMsgID: clientMsgID,
		EnqueuedAt:  at,
	}, AppendOptions{DedupSince: at.Add(-24 * time.Hour)})
	require.NoError(t, err)
	return res
}

func TestAppendAssignsMonotonicOffsets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 1; i <= 3; i++ {
		res := appendEvent(t, s, "r1", "", t0)
		assert.Equal(t, int64(i), res.Offset)
	}
	other := appendEvent(t, s, "r2", "", t0)
	assert.Equal(t, int64(1), other.Offset)

	events, err := s.ReadEvents(ctx, "r1", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Offset)
	assert.Equal(t, int64(3), events[1].Offset)
	assert.Equal(t, t0, events[0].EnqueuedAt)
	assert.JSONEq(t, `{"type":"join"}`, string(events[0].Payload))

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, int64(3), room.HeadOffset)
	assert.Equal(t, domain.RoomStatusActive, room.Status)
}

func TestAppendDeduplicatesWithinWindow(t *testing.T) {
	s := newTestStore(t)

	first := appendEvent(t, s, "r1", "m-1", t0)
	dup := appendEvent(t, s, "r1", "m-1", t0.Add(time.Hour))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, first.Offset, dup.Offset)

	// Outside the window the id is treated as new.
	late := appendEvent(t, s, "r1", "m-1", t0.Add(25*time.Hour))
	assert.False(t, late.Duplicate)
	assert.Equal(t, int64(2), late.Offset)
}

func TestAppendRejectedAfterTermination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendEvent(t, s, "r1", "", t0)

	ok, err := s.TerminateRoom(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TerminateRoom(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.AppendEvent(ctx, &domain.Event{RoomID: "r1", Payload: json.RawMessage(`{}`), EnqueuedAt: t0}, AppendOptions{})
	assert.ErrorIs(t, err, domain.ErrAppendRejected)
}

func TestAppendBackpressure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	opts := AppendOptions{MaxPending: 2}
	ev := func() *domain.Event {
		return &domain.Event{RoomID: "r1", Payload: json.RawMessage(`{}`), EnqueuedAt: t0}
	}

	_, err := s.AppendEvent(ctx, ev(), opts)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, ev(), opts)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, ev(), opts)
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)

	ok, err := s.AdvanceAck(ctx, "r1", 1, t0)
	require.NoError(t, err)
	assert.True(t, ok)
	res, err := s.AppendEvent(ctx, ev(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Offset)
}

func TestPendingRoomsAndRetrySchedule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendEvent(t, s, "r1", "", t0)
	appendEvent(t, s, "r2", "", t0)

	pending, err := s.ListPendingRooms(ctx, t0, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	co, err := s.RecordFailure(ctx, "r1", t0.Add(time.Second), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, co.Attempts)
	require.NotNil(t, co.FirstFailedAt)
	assert.Equal(t, t0, *co.FirstFailedAt)

	pending, err = s.ListPendingRooms(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].RoomID)

	pending, err = s.ListPendingRooms(ctx, t0.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	co, err = s.RecordFailure(ctx, "r1", t0.Add(3*time.Second), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, co.Attempts)
	assert.Equal(t, t0, *co.FirstFailedAt)

	ok, err := s.AdvanceAck(ctx, "r1", 1, t0.Add(4*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	co, err = s.GetConsumerOffset(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, co.Attempts)
	assert.Nil(t, co.NextAttemptAt)
	assert.Equal(t, int64(1), co.LastAcked)

	// Regressing the cursor is a no-op.
	ok, err = s.AdvanceAck(ctx, "r1", 1, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitSnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendEvent(t, s, "r1", "", t0)

	commit := &SnapshotCommit{Snapshot: domain.Snapshot{
		RoomID:              "r1",
		LastCommittedOffset: 1,
		SessionState:        json.RawMessage(`{"phase":"IDLE"}`),
		CreatedAt:           t0,
	}}
	applied, err := s.CommitSnapshot(ctx, commit)
	require.NoError(t, err)
	assert.True(t, applied)
	first, err := s.GetSnapshot(ctx, "r1")
	require.NoError(t, err)

	again := *commit
	again.Snapshot.CreatedAt = t0.Add(time.Minute)
	applied, err = s.CommitSnapshot(ctx, &again)
	require.NoError(t, err)
	assert.False(t, applied)
	second, err := s.GetSnapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stale := *commit
	stale.Snapshot.LastCommittedOffset = 0
	applied, err = s.CommitSnapshot(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCommitSnapshotProjectsDecisionsAndTimers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendEvent(t, s, "r1", "", t0)
	appendEvent(t, s, "r1", "", t0)

	deadline := t0.Add(time.Minute)
	d := &domain.Decision{
		ID: "d1", SessionID: "s1", Title: "Budget", Options: []string{"A", "B"},
		QuorumThreshold: 2, Deadline: deadline, Status: domain.DecisionStatusOpen,
		TieBreakPolicy: domain.TieBreakLowestIndex, CreatedAt: t0,
		Votes: map[string]domain.Vote{"v1": {DecisionID: "d1", VoterID: "v1", Choice: 0, CastAt: t0}},
	}
	_, err := s.CommitSnapshot(ctx, &SnapshotCommit{
		Snapshot:  domain.Snapshot{RoomID: "r1", LastCommittedOffset: 1, SessionState: json.RawMessage(`{}`), CreatedAt: t0},
		Decisions: []*domain.Decision{d},
		NextDue:   &deadline,
	})
	require.NoError(t, err)

	due, err := s.ListDueTimers(ctx, deadline, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, deadline, due[0].DueAt)

	winner := 0
	closed := t0.Add(time.Second)
	d.Status = domain.DecisionStatusResolved
	d.Winner = &winner
	d.ResolvedBy = domain.ResolvedByPlurality
	d.ClosedAt = &closed
	d.Votes["v2"] = domain.Vote{DecisionID: "d1", VoterID: "v2", Choice: 0, CastAt: closed}
	_, err = s.CommitSnapshot(ctx, &SnapshotCommit{
		Snapshot:  domain.Snapshot{RoomID: "r1", LastCommittedOffset: 2, SessionState: json.RawMessage(`{}`), CreatedAt: t0},
		Decisions: []*domain.Decision{d},
	})
	require.NoError(t, err)

	got, err := s.GetDecision(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DecisionStatusResolved, got.Status)
	require.NotNil(t, got.Winner)
	assert.Equal(t, 0, *got.Winner)
	assert.Len(t, got.Votes, 2)
	assert.Equal(t, []string{"A", "B"}, got.Options)

	due, err = s.ListDueTimers(ctx, deadline, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	list, err := s.ListDecisions(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeadLetterBatchAndReplay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendEvent(t, s, "r1", "", t0)
	appendEvent(t, s, "r1", "", t0)

	events, err := s.ReadEvents(ctx, "r1", 0, 10)
	require.NoError(t, err)
	letters := make([]domain.DeadLetter, 0, len(events))
	for _, ev := range events {
		letters = append(letters, domain.DeadLetter{
			RoomID: ev.RoomID, Offset: ev.Offset, Author: ev.Author, Payload: ev.Payload,
			FailureReason: "agent unavailable", Attempts: 5, FirstFailedAt: t0,
		})
	}
	require.NoError(t, s.DeadLetterBatch(ctx, "r1", letters, 2, t0))

	room, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, room.Degraded)
	co, err := s.GetConsumerOffset(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), co.LastAcked)

	n, err := s.CountDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListDeadLetters(ctx, DeadLetterFilter{RoomID: "r1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, dl := range list {
		ok, err := s.MarkDeadLetterReplayed(ctx, dl.ID, t0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.MarkDeadLetterReplayed(ctx, list[0].ID, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	cleared, err := s.ClearDegradedIfResolved(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, cleared)
	n, err = s.CountDegradedRooms(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithFileParams(t *testing.T) {
	assert.Equal(t, "data.db?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", withFileParams("data.db"))
	assert.Equal(t, "file:x.db?cache=shared&_busy_timeout=1000&_journal_mode=WAL&_txlock=immediate",
		withFileParams("file:x.db?cache=shared&_busy_timeout=1000"))
}
