package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsage/internal/domain"
	"finsage/internal/responder"
	"finsage/internal/search"
)

// cancellingTool cancels the run context on its first search, simulating
// the run budget expiring while a call is in flight.
type cancellingTool struct {
	cancel context.CancelFunc
}

func (cancellingTool) Name() string { return domain.ToolDocumentSearch }

func (ct cancellingTool) Search(context.Context, string, int) ([]search.Result, error) {
	ct.cancel()
	return nil, search.Transient(errors.New("interrupted"))
}

func TestCancelledBackoffRecordsActualAttempts(t *testing.T) {
	c := newTestController(t, responder.NewRuleGenerator())
	c.cfg.ToolRetryBackoff = time.Minute

	run := &domain.Run{
		RunID:     "run_backoff",
		Question:  acmeQuestion("What is Acme Corp's net sales?"),
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
	if err := c.store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &turnDispatcher{c: c, runID: run.RunID, turnID: "turn_backoff", doc: cancellingTool{cancel: cancel}}

	ev, err := d.Dispatch(ctx, domain.ResponderBasic, responder.ToolQuery{
		Tool:    domain.ToolDocumentSearch,
		Query:   "net sales",
		Purpose: "net sales",
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if ev.Status != domain.ToolCallStatusFailed {
		t.Fatalf("expected a failed call, got %s", ev.Status)
	}

	calls := d.recorded()
	if len(calls) != 1 {
		t.Fatalf("expected one recorded call, got %d", len(calls))
	}
	if calls[0].Attempts != 1 {
		t.Fatalf("one search was made, recorded %d attempts", calls[0].Attempts)
	}
}
