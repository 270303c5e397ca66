// Package consumer hands out per-room batches of the log to workers with at
// most one active writer per room.
package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/PManghan91/boardroom/internal/domain"
)

// Claim is a worker's exclusive, time-bounded right to process a room.
// Token fences a claim against its successors.
type Claim struct {
	RoomID    string
	WorkerID  string
	Token     string
	ExpiresAt time.Time
}

// ClaimTable tracks active claims. All methods are safe for concurrent use.
type ClaimTable struct {
	clock    clock.Clock
	capacity int

	mu       sync.Mutex
	byRoom   map[string]Claim
	byWorker map[string]string // worker_id -> room_id
}

// NewClaimTable creates a claim table holding at most capacity rooms. A
// capacity of zero is unbounded.
func NewClaimTable(clk clock.Clock, capacity int) *ClaimTable {
	return &ClaimTable{
		clock:    clk,
		capacity: capacity,
		byRoom:   make(map[string]Claim),
		byWorker: make(map[string]string),
	}
}

// Acquire claims roomID for workerID. A claim whose lease has expired is
// considered abandoned and is taken over.
func (t *ClaimTable) Acquire(roomID, workerID string, lease time.Duration) (Claim, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.expireLocked(now)

	if held, ok := t.byRoom[roomID]; ok {
		if held.WorkerID == workerID {
			return Claim{}, fmt.Errorf("%w: %s already holds %s", domain.ErrWorkerBusy, workerID, roomID)
		}
		return Claim{}, fmt.Errorf("%w: %s held by %s", domain.ErrAlreadyClaimed, roomID, held.WorkerID)
	}
	if other, ok := t.byWorker[workerID]; ok {
		return Claim{}, fmt.Errorf("%w: %s already holds %s", domain.ErrWorkerBusy, workerID, other)
	}
	if t.capacity > 0 && len(t.byRoom) >= t.capacity {
		return Claim{}, fmt.Errorf("%w: claim table full (%d rooms)", domain.ErrResourceExhausted, t.capacity)
	}

	c := Claim{
		RoomID:    roomID,
		WorkerID:  workerID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(lease),
	}
	t.byRoom[roomID] = c
	t.byWorker[workerID] = roomID
	return c, nil
}

// Renew extends a live claim.
func (t *ClaimTable) Renew(c Claim, lease time.Duration) (Claim, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if err := t.checkLocked(c, now); err != nil {
		return Claim{}, err
	}
	c.ExpiresAt = now.Add(lease)
	t.byRoom[c.RoomID] = c
	return c, nil
}

// Validate reports ErrLeaseLost unless c is still the room's live claim.
func (t *ClaimTable) Validate(c Claim) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkLocked(c, t.clock.Now())
}

// Release drops c if it is still the room's claim.
func (t *ClaimTable) Release(c Claim) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	held, ok := t.byRoom[c.RoomID]
	if !ok || held.Token != c.Token {
		return false
	}
	t.dropLocked(held)
	return true
}

// Len returns the number of live claims.
func (t *ClaimTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(t.clock.Now())
	return len(t.byRoom)
}

func (t *ClaimTable) checkLocked(c Claim, now time.Time) error {
	held, ok := t.byRoom[c.RoomID]
	if !ok || held.Token != c.Token {
		return fmt.Errorf("%w: %s", domain.ErrLeaseLost, c.RoomID)
	}
	if !now.Before(held.ExpiresAt) {
		t.dropLocked(held)
		return fmt.Errorf("%w: %s expired at %s", domain.ErrLeaseLost, c.RoomID, held.ExpiresAt.Format(time.RFC3339Nano))
	}
	return nil
}

func (t *ClaimTable) expireLocked(now time.Time) {
	for _, c := range t.byRoom {
		if !now.Before(c.ExpiresAt) {
			t.dropLocked(c)
		}
	}
}

func (t *ClaimTable) dropLocked(c Claim) {
	delete(t.byRoom, c.RoomID)
	if t.byWorker[c.WorkerID] == c.RoomID {
		delete(t.byWorker, c.WorkerID)
	}
}
