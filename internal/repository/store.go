// Package store provides the durable storage layer of the boardroom processor.
package store

import (
	"context"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Room operations
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	ListRooms(ctx context.Context, limit int) ([]domain.Room, error)
	TerminateRoom(ctx context.Context, roomID string) (bool, error)
	ClearDegradedIfResolved(ctx context.Context, roomID string) (bool, error)
	CountDegradedRooms(ctx context.Context) (int, error)

	// Log operations
	AppendEvent(ctx context.Context, event *domain.Event, opts AppendOptions) (*AppendResult, error)
	ReadEvents(ctx context.Context, roomID string, afterOffset int64, limit int) ([]domain.Event, error)

	// Consumer cursor operations
	GetConsumerOffset(ctx context.Context, roomID string) (*domain.ConsumerOffset, error)
	ListPendingRooms(ctx context.Context, now time.Time, limit int) ([]PendingRoom, error)
	MarkClaimed(ctx context.Context, roomID string, upTo int64) error
	AdvanceAck(ctx context.Context, roomID string, upTo int64, now time.Time) (bool, error)
	RecordFailure(ctx context.Context, roomID string, nextAttemptAt, now time.Time) (*domain.ConsumerOffset, error)

	// Snapshot operations
	CommitSnapshot(ctx context.Context, commit *SnapshotCommit) (bool, error)
	GetSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error)

	// Decision projections
	GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error)
	ListDecisions(ctx context.Context, roomID string) ([]domain.Decision, error)

	// Dead letter operations
	DeadLetterEvent(ctx context.Context, dl *domain.DeadLetter) error
	DeadLetterBatch(ctx context.Context, roomID string, letters []domain.DeadLetter, upTo int64, now time.Time) error
	GetDeadLetter(ctx context.Context, id int64) (*domain.DeadLetter, error)
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]domain.DeadLetter, error)
	MarkDeadLetterReplayed(ctx context.Context, id int64, at time.Time) (bool, error)
	CountDeadLetters(ctx context.Context) (int, error)

	// Timer operations
	ListDueTimers(ctx context.Context, now time.Time, limit int) ([]domain.RoomTimer, error)

	// Lifecycle
	Close() error
}

// AppendOptions bounds an append.
type AppendOptions struct {
	// DedupSince is the oldest enqueued_at a client_msg_id match counts for.
	DedupSince time.Time
	// MaxPending rejects the append when the unacknowledged backlog reaches it.
	// Zero disables the check.
	MaxPending int64
}

// AppendResult is the outcome of AppendEvent.
type AppendResult struct {
	Offset    int64
	Duplicate bool
}

// PendingRoom is a room whose log head is past its acknowledged cursor.
type PendingRoom struct {
	RoomID     string
	HeadOffset int64
	Cursor     domain.ConsumerOffset
}

// SnapshotCommit is everything persisted atomically with a snapshot.
type SnapshotCommit struct {
	Snapshot  domain.Snapshot
	Decisions []*domain.Decision
	// NextDue is the earliest pending deadline of the room. Nil clears it.
	NextDue *time.Time
}

// DeadLetterFilter provides filtering options for dead letters.
type DeadLetterFilter struct {
	RoomID          string
	IncludeReplayed bool
	Limit           int
}
