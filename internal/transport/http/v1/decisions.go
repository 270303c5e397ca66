package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/PManghan91/boardroom/internal/service"
)

// ListDecisions lists a room's decisions with tallies.
// GET /v1/rooms/:room_id/decisions
func (h *Handler) ListDecisions(c echo.Context) error {
	list, err := h.service.ListDecisions(c.Request().Context(), c.Param("room_id"))
	if err != nil {
		return writeError(c, err)
	}
	if list == nil {
		list = []service.DecisionView{}
	}
	return c.JSON(http.StatusOK, map[string]any{"decisions": list})
}

// GetDecision returns one decision with its tally.
// GET /v1/decisions/:decision_id
func (h *Handler) GetDecision(c echo.Context) error {
	view, err := h.service.GetDecision(c.Request().Context(), c.Param("decision_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}
