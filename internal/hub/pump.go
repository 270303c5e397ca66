package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// PumpConfig sets keep-alive timing for a watcher connection.
type PumpConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultPumpConfig keeps the read deadline above the ping interval.
var DefaultPumpConfig = PumpConfig{
	PingInterval: 30 * time.Second,
	ReadTimeout:  60 * time.Second,
	WriteTimeout: 10 * time.Second,
}

// Serve runs the watcher's read and write loops. It returns once the
// connection is closed by either side.
func (h *Hub) Serve(w *Watcher, cfg PumpConfig) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(w, cfg)
	}()
	h.readPump(w, cfg)
	<-done
}

// readPump discards client frames; it exists to process pongs and notice
// the peer going away.
func (h *Hub) readPump(w *Watcher, cfg PumpConfig) {
	defer func() {
		h.Unregister(w)
		w.Conn.Close()
	}()

	w.Conn.SetReadLimit(4096)
	_ = w.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	w.Conn.SetPongHandler(func(string) error {
		return w.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	for {
		if _, _, err := w.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("watcher read error", "watcher_id", w.ID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(w *Watcher, cfg PumpConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		w.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.Send:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = w.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := w.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("watcher write failed", "watcher_id", w.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := w.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
