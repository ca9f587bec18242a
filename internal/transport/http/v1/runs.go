package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"finsage/internal/domain"
)

// QuestionRequest is the request to submit a question for triage.
type QuestionRequest struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Context string `json:"context"`
	Entity  string `json:"entity,omitempty"`
}

// SubmitQuestion runs a question to its terminal state and returns the
// audit trail. Runs are synchronous: the response carries the outcome.
// POST /v1/questions
func (h *Handler) SubmitQuestion(c echo.Context) error {
	ctx := c.Request().Context()

	var req QuestionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}
	if req.Context == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "context is required"})
	}

	trail, err := h.ctrl.Execute(ctx, domain.Question{
		ID:         req.ID,
		Text:       req.Text,
		ContextRef: req.Context,
		Entity:     req.Entity,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	status := http.StatusOK
	if trail.Run.Status == domain.RunStatusFailed {
		// The run is sealed either way; the status code just flags it.
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, trail)
}

// ListRuns lists recent runs, newest first.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}

	runs, err := h.store.ListRuns(ctx, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

// GetRun gets a specific run by ID.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	return c.JSON(http.StatusOK, run)
}

// GetAuditTrail returns the full ordered record of a run.
// GET /v1/runs/:run_id/audit
func (h *Handler) GetAuditTrail(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if run == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	trail, err := h.store.GetAuditTrail(ctx, runID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, trail)
}
