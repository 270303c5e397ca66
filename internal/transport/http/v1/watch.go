package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WatchRoom streams every committed snapshot of a room over a WebSocket,
// starting with the current one.
// GET /v1/rooms/:room_id/watch
func (h *Handler) WatchRoom(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "watch is disabled"})
	}
	roomID := c.Param("room_id")
	ctx := c.Request().Context()
	if _, err := h.service.GetRoom(ctx, roomID); err != nil {
		return writeError(c, err)
	}
	current, err := h.service.GetSnapshot(ctx, roomID)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return writeError(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
		return nil
	}
	if current != nil {
		if err := ws.WriteJSON(current); err != nil {
			ws.Close()
			return nil
		}
	}

	w := h.hub.NewWatcher(ws, roomID)
	if err := h.hub.Register(ctx, w); err != nil {
		ws.Close()
		return nil
	}
	go h.hub.Serve(w, hub.DefaultPumpConfig)
	return nil
}
