package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"finsage/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newRun(id string) *domain.Run {
	return &domain.Run{
		RunID: id,
		Question: domain.Question{
			ID:         "q1",
			Text:       "What is Acme Corp's gross profit?",
			ContextRef: "fixtures/acme.txt",
			Entity:     "Acme Corp",
		},
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.CreateRun(ctx, newRun("r1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.Status != domain.RunStatusCreated {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.Question.Entity != "Acme Corp" {
		t.Fatalf("entity not preserved: %q", got.Question.Entity)
	}

	cls := &domain.Classification{
		Category:  domain.CategoryBasic,
		Rationale: "all variables present in context",
		Evidence:  []string{"tc_1", "tc_2"},
	}
	if err := store.UpdateRunClassification(ctx, "r1", cls); err != nil {
		t.Fatalf("UpdateRunClassification failed: %v", err)
	}
	if err := store.UpdateRunStatus(ctx, "r1", domain.RunStatusClassified, domain.ResponderTriage); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, err = store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusClassified {
		t.Fatalf("expected CLASSIFIED, got %s", got.Status)
	}
	if got.Classification == nil || got.Classification.Category != domain.CategoryBasic {
		t.Fatalf("classification not persisted: %+v", got.Classification)
	}
	if len(got.Classification.Evidence) != 2 {
		t.Fatalf("expected 2 evidence ids, got %d", len(got.Classification.Evidence))
	}

	final := json.RawMessage(`{"category":"basic","answer":"42"}`)
	if err := store.SealRun(ctx, "r1", domain.RunStatusDone, final, nil); err != nil {
		t.Fatalf("SealRun failed: %v", err)
	}

	got, err = store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusDone {
		t.Fatalf("expected DONE, got %s", got.Status)
	}
	if got.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
	if string(got.Final) != string(final) {
		t.Fatalf("final answer not preserved: %s", got.Final)
	}
}

func TestSQLiteStoreSealedRunIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.CreateRun(ctx, newRun("r1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	errData := json.RawMessage(`{"kind":"run_timeout","message":"run timed out"}`)
	if err := store.SealRun(ctx, "r1", domain.RunStatusFailed, nil, errData); err != nil {
		t.Fatalf("SealRun failed: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "r1", domain.RunStatusDelegated, domain.ResponderBasic); err == nil {
		t.Fatal("expected update of sealed run to fail")
	}
	if err := store.SealRun(ctx, "r1", domain.RunStatusDone, json.RawMessage(`{}`), nil); err == nil {
		t.Fatal("expected re-seal to fail")
	}

	got, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusFailed {
		t.Fatalf("sealed status changed: %s", got.Status)
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	got, err := store.GetRun(ctx, "missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing run, got %+v", got)
	}
}

func TestSQLiteStoreAuditTrailOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.CreateRun(ctx, newRun("r1")); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	// Insert turns out of order; the trail must come back ordered by seq.
	for _, seq := range []int{2, 1, 3} {
		turn := &domain.Turn{
			TurnID:    "t" + string(rune('0'+seq)),
			RunID:     "r1",
			Seq:       seq,
			Responder: domain.ResponderTriage,
			Input:     "question",
			CreatedAt: time.Now(),
		}
		if err := store.CreateTurn(ctx, turn); err != nil {
			t.Fatalf("CreateTurn failed: %v", err)
		}
	}

	now := time.Now()
	tc := &domain.ToolCall{
		ToolCallID:  "tc_1",
		RunID:       "r1",
		TurnID:      "t1",
		Tool:        domain.ToolDocumentSearch,
		Query:       "total debt",
		Status:      domain.ToolCallStatusOK,
		Attempts:    1,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := store.CreateToolCall(ctx, tc); err != nil {
		t.Fatalf("CreateToolCall failed: %v", err)
	}

	ho := &domain.HandoffEvent{
		HandoffID: "ho_1",
		RunID:     "r1",
		TurnID:    "t2",
		From:      domain.ResponderAssumption,
		To:        domain.ResponderCritic,
		Rationale: "assumed diluted share count",
		Excerpt:   "step 1: total debt / market cap",
		Accepted:  true,
		CreatedAt: now,
	}
	if err := store.CreateHandoff(ctx, ho); err != nil {
		t.Fatalf("CreateHandoff failed: %v", err)
	}

	report := &domain.CriticReport{
		ReportID:   "cr_1",
		RunID:      "r1",
		TurnID:     "t3",
		Verdict:    domain.VerdictConfirmed,
		Confidence: "high",
		CreatedAt:  now,
	}
	if err := store.CreateCriticReport(ctx, report); err != nil {
		t.Fatalf("CreateCriticReport failed: %v", err)
	}

	trail, err := store.GetAuditTrail(ctx, "r1")
	if err != nil {
		t.Fatalf("GetAuditTrail failed: %v", err)
	}
	if len(trail.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(trail.Turns))
	}
	for i, turn := range trail.Turns {
		if turn.Seq != i+1 {
			t.Fatalf("turns out of order: position %d has seq %d", i, turn.Seq)
		}
	}
	if len(trail.Tools) != 1 || trail.Tools[0].ToolCallID != "tc_1" {
		t.Fatalf("unexpected tool calls: %+v", trail.Tools)
	}
	if len(trail.Handoffs) != 1 || !trail.Handoffs[0].Accepted {
		t.Fatalf("unexpected handoffs: %+v", trail.Handoffs)
	}
	if trail.Critic == nil || trail.Critic.Verdict != domain.VerdictConfirmed {
		t.Fatalf("unexpected critic report: %+v", trail.Critic)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	for _, id := range []string{"r1", "r2", "r3"} {
		run := newRun(id)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}
