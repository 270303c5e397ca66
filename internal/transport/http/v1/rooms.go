package v1

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PManghan91/boardroom/internal/domain"
)

type appendBody struct {
	Author      string          `json:"author"`
	Payload     json.RawMessage `json:"payload"`
	ClientMsgID string          `json:"client_msg_id,omitempty"`
}

// AppendEvent appends an event to a room's log.
// POST /v1/rooms/:room_id/events
func (h *Handler) AppendEvent(c echo.Context) error {
	var body appendBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	resp, err := h.service.Append(c.Request().Context(), domain.AppendRequest{
		RoomID:      c.Param("room_id"),
		Author:      body.Author,
		Payload:     body.Payload,
		ClientMsgID: body.ClientMsgID,
	})
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusAccepted
	if resp.Duplicate {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

// ListRooms lists rooms.
// GET /v1/rooms
func (h *Handler) ListRooms(c echo.Context) error {
	rooms, err := h.service.ListRooms(c.Request().Context(), queryInt(c, "limit", 100))
	if err != nil {
		return writeError(c, err)
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	return c.JSON(http.StatusOK, map[string]any{"rooms": rooms})
}

// GetRoom returns a room.
// GET /v1/rooms/:room_id
func (h *Handler) GetRoom(c echo.Context) error {
	room, err := h.service.GetRoom(c.Request().Context(), c.Param("room_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, room)
}

// GetSnapshot returns the room's last committed snapshot.
// GET /v1/rooms/:room_id/snapshot
func (h *Handler) GetSnapshot(c echo.Context) error {
	snap, err := h.service.GetSnapshot(c.Request().Context(), c.Param("room_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// TerminateRoom stops a room from accepting appends.
// POST /v1/rooms/:room_id/terminate
func (h *Handler) TerminateRoom(c echo.Context) error {
	room, err := h.service.TerminateRoom(c.Request().Context(), c.Param("room_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, room)
}
