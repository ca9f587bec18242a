// Package http provides the HTTP server for the triage service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"finsage/internal/orchestrator"
	"finsage/internal/store"
	v1 "finsage/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. It exposes question
// submission plus read access to runs and their audit trails.
func NewServer(ctrl *orchestrator.Controller, st store.Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(ctrl, st)
	v1Handler.RegisterRoutes(e)

	return e
}
