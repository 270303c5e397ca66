// Package v1 provides the version 1 HTTP handlers.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/PManghan91/boardroom/internal/domain"
	"github.com/PManghan91/boardroom/internal/hub"
	"github.com/PManghan91/boardroom/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	hub     *hub.Hub
}

// NewHandler creates a new handler. h may be nil, which disables watch.
func NewHandler(svc *service.Service, h *hub.Hub) *Handler {
	return &Handler{service: svc, hub: h}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/rooms/:room_id/events", h.AppendEvent)
	e.GET("/v1/rooms", h.ListRooms)
	e.GET("/v1/rooms/:room_id", h.GetRoom)
	e.GET("/v1/rooms/:room_id/snapshot", h.GetSnapshot)
	e.GET("/v1/rooms/:room_id/decisions", h.ListDecisions)
	e.POST("/v1/rooms/:room_id/terminate", h.TerminateRoom)
	e.GET("/v1/rooms/:room_id/watch", h.WatchRoom)
	e.GET("/v1/decisions/:decision_id", h.GetDecision)

	e.GET("/v1/dead_letters", h.ListDeadLetters)
	e.POST("/v1/dead_letters/:id/replay", h.ReplayDeadLetter)

	e.GET("/health", h.Health)
}

// Health returns the processor's readiness report.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	health, err := h.service.Health(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, health)
}

// writeError maps domain errors to HTTP statuses.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrDecisionNotFound),
		errors.Is(err, domain.ErrDeadLetterMissing):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAppendRejected),
		errors.Is(err, domain.ErrAlreadyReplayed):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrResourceExhausted):
		c.Response().Header().Set("Retry-After", "1")
		status = http.StatusTooManyRequests
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
