package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"finsage/internal/domain"
	"finsage/internal/policy"
	"finsage/internal/responder"
	"finsage/internal/search"
)

// turnDispatcher executes tool queries for one turn. Every query is gated
// through the policy engine before dispatch, transient failures are retried
// with backoff, and the completed call is recorded on the audit trail
// whatever its outcome.
type turnDispatcher struct {
	c      *Controller
	runID  string
	turnID string
	doc    search.Tool

	mu    sync.Mutex
	calls []domain.ToolCall
}

func (d *turnDispatcher) Dispatch(ctx context.Context, resp string, q responder.ToolQuery) (responder.Evidence, error) {
	ev := responder.Evidence{Tool: q.Tool, Query: q.Query, Purpose: q.Purpose}
	tc := domain.ToolCall{
		ToolCallID: "tc_" + uuid.New().String()[:8],
		RunID:      d.runID,
		TurnID:     d.turnID,
		Tool:       q.Tool,
		Query:      q.Query,
		CreatedAt:  time.Now(),
	}
	ev.ToolCallID = tc.ToolCallID

	decision, err := d.c.policy.ToolDecision(ctx, resp, q.Tool)
	if err != nil {
		return ev, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if decision != policy.DecisionAllow {
		// Hard boundary: the invocation fails fast and is recorded; the
		// responder proceeds without the tool.
		tc.Status = domain.ToolCallStatusFailed
		tc.Attempts = 0
		tc.Error = errJSON(domain.ErrToolNotPermitted, fmt.Sprintf("tool %s not in %s allowance", q.Tool, resp))
		return d.complete(ctx, tc, ev, "tool not permitted")
	}

	tool := d.toolFor(q.Tool)
	if tool == nil {
		tc.Status = domain.ToolCallStatusFailed
		tc.Attempts = 0
		tc.Error = errJSON(domain.ErrToolNotPermitted, fmt.Sprintf("unknown tool %s", q.Tool))
		return d.complete(ctx, tc, ev, "unknown tool")
	}

	var results []search.Result
	var lastErr error
	attempts := 0
	cancelled := false
	for attempts <= d.c.cfg.ToolRetryMax && !cancelled {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.c.cfg.ToolTimeout)
		results, lastErr = tool.Search(callCtx, q.Query, d.c.cfg.SearchResultCap)
		cancel()
		if lastErr == nil {
			break
		}
		if !search.IsTransient(lastErr) {
			// Permanent failures (malformed query, empty index) are not retried.
			break
		}
		if attempts <= d.c.cfg.ToolRetryMax {
			select {
			case <-time.After(time.Duration(attempts) * d.c.cfg.ToolRetryBackoff):
			case <-ctx.Done():
				// The recorded attempt count stays what was actually tried.
				lastErr = search.Transient(ctx.Err())
				cancelled = true
			}
		}
	}
	tc.Attempts = attempts

	if lastErr != nil {
		tc.Status = domain.ToolCallStatusFailed
		kind := domain.ErrorKind("permanent_failure")
		if search.IsTransient(lastErr) {
			kind = domain.ErrToolTransient
		}
		tc.Error = errJSON(kind, lastErr.Error())
		// The responder proceeds with an explicit gap instead of a value.
		return d.complete(ctx, tc, ev, "data not retrievable")
	}

	tc.Status = domain.ToolCallStatusOK
	if attempts > 1 {
		tc.Status = domain.ToolCallStatusRetried
	}
	tc.Result, _ = json.Marshal(results)
	ev.Results = results
	return d.complete(ctx, tc, ev, "")
}

func (d *turnDispatcher) complete(ctx context.Context, tc domain.ToolCall, ev responder.Evidence, marker string) (responder.Evidence, error) {
	now := time.Now()
	tc.CompletedAt = &now
	ev.Status = tc.Status
	ev.Marker = marker

	// A call cut short by the run budget is still part of the trail.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := d.c.store.CreateToolCall(ctx, &tc); err != nil {
		log.Printf("ERROR: failed to record tool call %s: %v", tc.ToolCallID, err)
		return ev, fmt.Errorf("failed to record tool call: %w", err)
	}
	d.mu.Lock()
	d.calls = append(d.calls, tc)
	d.mu.Unlock()
	return ev, nil
}

func (d *turnDispatcher) toolFor(name string) search.Tool {
	switch name {
	case domain.ToolDocumentSearch:
		return d.doc
	case domain.ToolWebSearch:
		return d.c.web
	}
	return nil
}

// recorded returns the tool calls completed during this turn, in
// completion order.
func (d *turnDispatcher) recorded() []domain.ToolCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.ToolCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func errJSON(kind domain.ErrorKind, msg string) json.RawMessage {
	b, _ := json.Marshal(domain.RunError{Kind: kind, Message: msg})
	return b
}

var _ responder.Dispatcher = (*turnDispatcher)(nil)
