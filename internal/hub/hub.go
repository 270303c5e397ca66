// Package hub fans committed room snapshots out to WebSocket watchers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/PManghan91/boardroom/internal/domain"
)

const sendBuffer = 64

// ErrBufferFull is returned when a watcher cannot keep up.
var ErrBufferFull = errors.New("send buffer full")

// Watcher is one WebSocket connection following a room.
type Watcher struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu sync.Mutex
}

type roomMessage struct {
	roomID string
	data   []byte
}

// Hub tracks watchers per room.
type Hub struct {
	logger *slog.Logger

	register   chan *Watcher
	unregister chan *Watcher
	broadcast  chan roomMessage

	mu       sync.RWMutex
	watchers map[string]*Watcher
	rooms    map[string]map[string]bool
}

// New creates a hub. Run must be started before watchers register.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		broadcast:  make(chan roomMessage, 256),
		watchers:   make(map[string]*Watcher),
		rooms:      make(map[string]map[string]bool),
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, w := range h.watchers {
				close(w.Send)
				delete(h.watchers, id)
			}
			h.rooms = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case w := <-h.register:
			h.mu.Lock()
			h.watchers[w.ID] = w
			if h.rooms[w.RoomID] == nil {
				h.rooms[w.RoomID] = make(map[string]bool)
			}
			h.rooms[w.RoomID][w.ID] = true
			h.mu.Unlock()
			h.logger.Debug("watcher registered", "watcher_id", w.ID, "room_id", w.RoomID)

		case w := <-h.unregister:
			h.remove(w)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Watcher
			for id := range h.rooms[msg.roomID] {
				w := h.watchers[id]
				select {
				case w.Send <- msg.data:
				default:
					slow = append(slow, w)
				}
			}
			h.mu.RUnlock()
			for _, w := range slow {
				h.logger.Warn("watcher buffer full, closing", "watcher_id", w.ID, "room_id", w.RoomID)
				h.remove(w)
			}
		}
	}
}

func (h *Hub) remove(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[w.ID]; !ok {
		return
	}
	delete(h.watchers, w.ID)
	if ids := h.rooms[w.RoomID]; ids != nil {
		delete(ids, w.ID)
		if len(ids) == 0 {
			delete(h.rooms, w.RoomID)
		}
	}
	close(w.Send)
	h.logger.Debug("watcher unregistered", "watcher_id", w.ID, "room_id", w.RoomID)
}

// NewWatcher wraps an upgraded connection following roomID.
func (h *Hub) NewWatcher(ws *websocket.Conn, roomID string) *Watcher {
	return &Watcher{
		ID:     uuid.NewString(),
		RoomID: roomID,
		Conn:   ws,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Register adds a watcher.
func (h *Hub) Register(ctx context.Context, w *Watcher) error {
	select {
	case h.register <- w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes a watcher and closes its send channel.
func (h *Hub) Unregister(w *Watcher) {
	h.remove(w)
}

// Publish sends a committed snapshot to the room's watchers. It never blocks
// the committing worker; when the hub is saturated the update is dropped.
func (h *Hub) Publish(snap domain.Snapshot) {
	if !h.HasWatchers(snap.RoomID) {
		return
	}
	data, err := json.Marshal(SnapshotMessage(snap))
	if err != nil {
		h.logger.Error("encode snapshot for watchers", "room_id", snap.RoomID, "error", err)
		return
	}
	select {
	case h.broadcast <- roomMessage{roomID: snap.RoomID, data: data}:
	default:
		h.logger.Warn("hub saturated, dropping update", "room_id", snap.RoomID, "offset", snap.LastCommittedOffset)
	}
}

// SnapshotMessage is the wire form of a snapshot on the watch feed.
func SnapshotMessage(snap domain.Snapshot) domain.SnapshotResponse {
	return domain.SnapshotResponse{
		RoomID:              snap.RoomID,
		LastCommittedOffset: snap.LastCommittedOffset,
		SessionState:        snap.SessionState,
		CreatedAt:           snap.CreatedAt.UnixMilli(),
	}
}

// SendJSON queues v for one watcher.
func (h *Hub) SendJSON(w *Watcher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case w.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WatcherCount returns the number of registered watchers.
func (h *Hub) WatcherCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// HasWatchers reports whether anyone follows roomID.
func (h *Hub) HasWatchers(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID]) > 0
}

// WriteMessage writes to the connection under the watcher's lock.
func (w *Watcher) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteMessage(messageType, data)
}
