package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"finsage/internal/config"
	"finsage/internal/domain"
	"finsage/internal/orchestrator"
	"finsage/internal/policy"
	"finsage/internal/responder"
	"finsage/internal/search"
	"finsage/internal/store"
	"finsage/tests/helpers"
)

const acmeCorpus = `Acme Corp annual report, fiscal year 2025.

Net sales for the year were $2,940 million. Cost of goods sold was
$1,760 million, giving gross profit of $1,180 million.`

func newTestHandler(t *testing.T) (*Handler, store.Store) {
	t.Helper()

	db := helpers.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}
	cfg := &config.Config{
		ToolTimeout:      time.Second,
		ToolRetryMax:     1,
		ToolRetryBackoff: time.Millisecond,
		SearchResultCap:  5,
		RunTimeout:       10 * time.Second,
	}

	ctrl := orchestrator.New(db, engine, responder.NewRuleGenerator(), search.NewWebSearch(""), cfg)
	ctrl.SetDocumentLoader(func(ref string) (search.Tool, string, error) {
		if ref != "fixtures/acme.txt" {
			return nil, "", fmt.Errorf("corpus %s unreadable", ref)
		}
		ds, err := search.NewDocumentSearchFromText(ref, acmeCorpus)
		if err != nil {
			return nil, "", err
		}
		return ds, ds.Entity(), nil
	})
	return NewHandler(ctrl, db), db
}

func TestSubmitQuestion(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	body := `{"text":"What is Acme Corp's gross profit for fiscal 2025?","context":"fixtures/acme.txt"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/questions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.SubmitQuestion(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var trail domain.AuditTrail
	if err := json.Unmarshal(rec.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	assert.Equal(t, domain.RunStatusDone, trail.Run.Status)
	assert.NotEmpty(t, trail.Turns)
}

func TestSubmitQuestionValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing text", `{"context":"fixtures/acme.txt"}`},
		{"missing context", `{"text":"What is gross profit?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/questions", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := h.SubmitQuestion(c)
			assert.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitQuestionFailedRun(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	body := `{"text":"What is Acme Corp's gross profit?","context":"fixtures/missing.txt"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/questions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.SubmitQuestion(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var trail domain.AuditTrail
	if err := json.Unmarshal(rec.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	assert.Equal(t, domain.RunStatusFailed, trail.Run.Status)
	assert.NotEmpty(t, trail.Run.Error)
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("missing")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetRunAndAuditTrail(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	run := &domain.Run{
		RunID: "r1",
		Question: domain.Question{
			ID: "q1", Text: "What is Acme Corp's gross profit?", ContextRef: "fixtures/acme.txt",
		},
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/r1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("r1")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/r1/audit", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("r1")

	if err := h.GetAuditTrail(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var trail domain.AuditTrail
	if err := json.Unmarshal(rec.Body.Bytes(), &trail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if trail.Run.RunID != "r1" {
		t.Fatalf("unexpected trail run: %s", trail.Run.RunID)
	}
}

func TestListRuns(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	for _, id := range []string{"r1", "r2"} {
		run := &domain.Run{
			RunID:     id,
			Question:  domain.Question{ID: "q", Text: "t", ContextRef: "c"},
			Status:    domain.RunStatusCreated,
			StartedAt: time.Now(),
		}
		if err := db.CreateRun(context.Background(), run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListRuns(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(resp.Runs))
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
