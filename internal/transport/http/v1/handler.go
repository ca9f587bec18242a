// Package v1 provides the HTTP handlers for the triage service API.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"finsage/internal/orchestrator"
	"finsage/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	ctrl  *orchestrator.Controller
	store store.Store
}

// NewHandler creates a new handler.
func NewHandler(ctrl *orchestrator.Controller, st store.Store) *Handler {
	return &Handler{
		ctrl:  ctrl,
		store: st,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/questions", h.SubmitQuestion)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/audit", h.GetAuditTrail)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
