package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/PManghan91/boardroom/internal/domain"
	store "github.com/PManghan91/boardroom/internal/repository"
)

// ListDeadLetters lists dead letters. Query: room_id, include_replayed, limit.
// GET /v1/dead_letters
func (h *Handler) ListDeadLetters(c echo.Context) error {
	includeReplayed, _ := strconv.ParseBool(c.QueryParam("include_replayed"))
	letters, err := h.service.ListDeadLetters(c.Request().Context(), store.DeadLetterFilter{
		RoomID:          c.QueryParam("room_id"),
		IncludeReplayed: includeReplayed,
		Limit:           queryInt(c, "limit", 100),
	})
	if err != nil {
		return writeError(c, err)
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}
	return c.JSON(http.StatusOK, map[string]any{"dead_letters": letters})
}

// ReplayDeadLetter re-appends a dead letter to its room.
// POST /v1/dead_letters/:id/replay
func (h *Handler) ReplayDeadLetter(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid dead letter id"})
	}
	res, err := h.service.ReplayDeadLetter(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
