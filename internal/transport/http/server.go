// Package http provides the HTTP server of the boardroom processor.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PManghan91/boardroom/internal/hub"
	"github.com/PManghan91/boardroom/internal/metrics"
	"github.com/PManghan91/boardroom/internal/service"
	v1 "github.com/PManghan91/boardroom/internal/transport/http/v1"
)

// NewServer creates the HTTP server: ingestion, snapshot reads, dead-letter
// admin, live watch and metrics.
func NewServer(svc *service.Service, h *hub.Hub, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc, h).RegisterRoutes(e)

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	return e
}
