package snapshot

import (
	"context"
	"sync"

	"github.com/PManghan91/boardroom/internal/deliberation"
)

// Arena keeps the last committed state of each room in memory between
// batches. A state is lent to one claim holder at a time. While it is out,
// any other holder restores from the snapshot instead, and the earlier
// holder can no longer check its copy back in.
type Arena struct {
	manager *Manager

	mu    sync.Mutex
	rooms map[string]*slot
}

type slot struct {
	state  *deliberation.RoomState
	holder string
}

// NewArena creates an arena backed by manager for cache misses.
func NewArena(manager *Manager) *Arena {
	return &Arena{manager: manager, rooms: make(map[string]*slot)}
}

// Checkout lends the room's state to holder. The cached state is lent to
// whichever holder asks while nobody has it out; otherwise the state is
// restored from the snapshot.
func (a *Arena) Checkout(ctx context.Context, roomID, holder string) (*deliberation.RoomState, error) {
	a.mu.Lock()
	if s, ok := a.rooms[roomID]; ok && s.holder == "" && s.state != nil {
		s.holder = holder
		st := s.state
		a.mu.Unlock()
		return st, nil
	}
	a.mu.Unlock()

	st, err := a.manager.Restore(ctx, roomID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[roomID] = &slot{holder: holder}
	return st, nil
}

// Checkin returns a committed state. It is dropped when holder no longer
// owns the room.
func (a *Arena) Checkin(roomID, holder string, st *deliberation.RoomState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.rooms[roomID]
	if !ok || s.holder != holder {
		return false
	}
	s.state = st
	s.holder = ""
	return true
}

// Discard forgets the room's in-memory state, so the next checkout restores
// from the snapshot.
func (a *Arena) Discard(roomID, holder string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.rooms[roomID]; ok && s.holder == holder {
		delete(a.rooms, roomID)
	}
}

// Len returns the number of rooms with a cached or lent state.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}
