// Package orchestrator owns the run state machine: classification dispatch,
// capability-gated delegation, mandatory review, and retry semantics.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"finsage/internal/config"
	"finsage/internal/domain"
	"finsage/internal/policy"
	"finsage/internal/responder"
	"finsage/internal/search"
	"finsage/internal/store"
)

// Structural violations get exactly one corrective retry before the run
// fails with the violation's error kind.
const maxTurnAttempts = 2

// Controller executes runs. Responders, adapters and policy are immutable
// shared configuration; each run's history is owned exclusively by the
// Execute call driving it.
type Controller struct {
	store      store.Store
	policy     *policy.Engine
	responders map[string]*responder.Responder
	web        search.Tool
	cfg        *config.Config

	// loadDocs resolves a context reference to a document search adapter.
	// Replaceable in tests for fixture corpora and fault injection.
	loadDocs func(ref string) (search.Tool, string, error)
}

// New creates a controller with the default responder set.
func New(st store.Store, pe *policy.Engine, gen responder.Generator, web search.Tool, cfg *config.Config) *Controller {
	responders := make(map[string]*responder.Responder)
	for name, desc := range responder.Defaults() {
		responders[name] = responder.New(desc, gen)
	}
	c := &Controller{
		store:      st,
		policy:     pe,
		responders: responders,
		web:        web,
		cfg:        cfg,
	}
	c.loadDocs = func(ref string) (search.Tool, string, error) {
		ds, err := search.NewDocumentSearch(ref)
		if err != nil {
			return nil, "", err
		}
		return ds, ds.Entity(), nil
	}
	return c
}

// SetDocumentLoader replaces the context-reference resolver. Test hook.
func (c *Controller) SetDocumentLoader(fn func(ref string) (search.Tool, string, error)) {
	c.loadDocs = fn
}

// runState is the mutable per-run working set, owned by one Execute call.
type runState struct {
	run    *domain.Run
	doc    search.Tool
	entity string
	seq    int
	turns  []domain.Turn
}

// Execute runs one question to a terminal state and returns its audit
// trail. A failed-terminal run is not an error: the partial trail plus the
// failure reason is the deliverable.
func (c *Controller) Execute(ctx context.Context, q domain.Question) (*domain.AuditTrail, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("question text is required")
	}
	if q.ID == "" {
		q.ID = "q_" + uuid.New().String()[:8]
	}

	rs := &runState{
		run: &domain.Run{
			RunID:     "run_" + uuid.New().String()[:8],
			Question:  q,
			Status:    domain.RunStatusCreated,
			StartedAt: time.Now(),
		},
	}
	if err := c.store.CreateRun(ctx, rs.run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	// The run budget starts once the run exists; expiry fails the run, not
	// the request.
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	doc, entity, err := c.loadDocs(q.ContextRef)
	if err != nil {
		return c.fail(rs, domain.NewRunError(domain.ErrContextUnresolved, "context %s: %v", q.ContextRef, err))
	}
	rs.doc = doc
	rs.entity = q.Entity
	if rs.entity == "" {
		rs.entity = entity
	}

	// Created -> Classified
	cls, runErr := c.classify(ctx, rs)
	if runErr != nil {
		return c.fail(rs, runErr)
	}
	rs.run.Classification = cls
	if err := c.store.UpdateRunClassification(ctx, rs.run.RunID, cls); err != nil {
		log.Printf("ERROR: failed to record classification for %s: %v", rs.run.RunID, err)
	}
	c.advance(ctx, rs, domain.RunStatusClassified, domain.ResponderTriage)

	// Classified -> Delegated
	target := responder.ForCategory(cls.Category)
	c.advance(ctx, rs, domain.RunStatusDelegated, target)

	if cls.Category == domain.CategoryAssumption {
		return c.runAssumption(ctx, rs)
	}
	return c.runDirect(ctx, rs, target, cls.Category)
}

// classify drives the triage turn, with one corrective retry. The
// classifier must produce exactly one category with a rationale, must not
// answer the question itself, and must corroborate tactical questions with
// at least one document search.
func (c *Controller) classify(ctx context.Context, rs *runState) (*domain.Classification, *domain.RunError) {
	req := responder.Request{Question: rs.run.Question, Entity: rs.entity}

	var problem string
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		if attempt > 1 {
			req.Instruction = "previous classification rejected (" + problem + "); respond with exactly one of basic/assumption/conceptual and a rationale, without answering the question"
		}
		out, disp, runErr := c.runTurn(ctx, rs, domain.ResponderTriage, req)
		if runErr != nil {
			if runErr.Kind == domain.ErrRunTimeout {
				return nil, runErr
			}
			problem = runErr.Message
			continue
		}

		if strings.TrimSpace(out.Answer) != "" {
			problem = "classifier attempted to produce a final answer"
			continue
		}
		if strings.TrimSpace(out.Rationale) == "" {
			problem = "rationale is empty"
			continue
		}
		calls := disp.recorded()
		if responder.Tactical(rs.run.Question.Text) && responder.ConcernsEntity(rs.run.Question.Text, rs.entity) && countDocSearches(calls) == 0 {
			problem = "tactical question classified without a corroborating document search"
			continue
		}

		evidence := make([]string, 0, len(calls))
		for _, tc := range calls {
			evidence = append(evidence, tc.ToolCallID)
		}
		return &domain.Classification{
			Category:  out.Category,
			Rationale: out.Rationale,
			Evidence:  evidence,
		}, nil
	}
	return nil, domain.NewRunError(domain.ErrClassificationAmbiguous, "classification did not resolve after retry: %s", problem)
}

// runDirect finishes a basic or conceptual run: no review phase, direct
// transition to terminal.
func (c *Controller) runDirect(ctx context.Context, rs *runState, target string, category domain.Category) (*domain.AuditTrail, error) {
	req := responder.Request{Question: rs.run.Question, Entity: rs.entity, Conversation: rs.turns}

	var lastErr *domain.RunError
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		if attempt > 1 {
			req.Instruction = "previous output rejected (" + lastErr.Message + "); restate the category, the answer, and the assumptions list"
		}
		out, _, runErr := c.runTurn(ctx, rs, target, req)
		if runErr != nil {
			if runErr.Kind == domain.ErrRunTimeout {
				return c.fail(rs, runErr)
			}
			lastErr = runErr
			continue
		}
		if out.Handoff != nil {
			// Basic and conceptual responders have no hand-off targets.
			c.recordHandoff(ctx, rs, target, out.Handoff, false)
			lastErr = domain.NewRunError(domain.ErrIllegalHandoff, "%s has no hand-off targets", target)
			continue
		}
		return c.finish(ctx, rs, &domain.FinalAnswer{Category: category, Output: *out})
	}
	return c.fail(rs, lastErr)
}

// runAssumption enforces the mandatory-review state machine: the
// assumption responder must hand off to the critic before the run may
// terminate, and the critic's report annotates the final answer.
func (c *Controller) runAssumption(ctx context.Context, rs *runState) (*domain.AuditTrail, error) {
	req := responder.Request{Question: rs.run.Question, Entity: rs.entity, Conversation: rs.turns}

	var out *domain.StructuredOutput
	var lastErr *domain.RunError
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		if attempt > 1 {
			req.Instruction = "previous turn rejected (" + lastErr.Message + "); complete the analysis and hand off to the critic for review"
		}
		turnOut, _, runErr := c.runTurn(ctx, rs, domain.ResponderAssumption, req)
		if runErr != nil {
			if runErr.Kind == domain.ErrRunTimeout {
				return c.fail(rs, runErr)
			}
			lastErr = runErr
			continue
		}

		if turnOut.Handoff == nil {
			// Final-shaped output without a hand-off is an incomplete turn.
			lastErr = domain.NewRunError(domain.ErrMissingMandatoryHandoff, "assumption responder produced a terminal output without handing off to the critic")
			continue
		}

		decision, err := c.policy.HandoffDecision(ctx, domain.ResponderAssumption, turnOut.Handoff.Target)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision != policy.DecisionAllow {
			c.recordHandoff(ctx, rs, domain.ResponderAssumption, turnOut.Handoff, false)
			lastErr = domain.NewRunError(domain.ErrIllegalHandoff, "hand-off target %q is not in the assumption responder's allowed set", turnOut.Handoff.Target)
			continue
		}

		c.recordHandoff(ctx, rs, domain.ResponderAssumption, turnOut.Handoff, true)
		out = turnOut
		break
	}
	if out == nil {
		return c.fail(rs, lastErr)
	}

	// Delegated -> AwaitingReview
	c.advance(ctx, rs, domain.RunStatusAwaitingReview, domain.ResponderCritic)

	report, runErr := c.review(ctx, rs, out.Handoff.Excerpt)
	if runErr != nil {
		return c.fail(rs, runErr)
	}

	// The verdict annotates the answer; the underlying figures stand.
	return c.finish(ctx, rs, &domain.FinalAnswer{
		Category: domain.CategoryAssumption,
		Output:   *out,
		Critic:   report,
	})
}

// review drives the critic turn and extracts its report.
func (c *Controller) review(ctx context.Context, rs *runState, excerpt string) (*domain.CriticReport, *domain.RunError) {
	req := responder.Request{
		Question:     rs.run.Question,
		Entity:       rs.entity,
		Conversation: rs.turns,
		Excerpt:      excerpt,
	}

	var lastErr *domain.RunError
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		if attempt > 1 {
			req.Instruction = "previous review rejected (" + lastErr.Message + "); return a confirmed or corrected verdict"
		}
		out, _, runErr := c.runTurn(ctx, rs, domain.ResponderCritic, req)
		if runErr != nil {
			if runErr.Kind == domain.ErrRunTimeout {
				return nil, runErr
			}
			lastErr = runErr
			continue
		}
		if out.Verdict == "" {
			lastErr = domain.NewRunError(domain.ErrMalformedOutput, "critic output lacks a verdict")
			continue
		}

		report := &domain.CriticReport{
			ReportID:    "cr_" + uuid.New().String()[:8],
			RunID:       rs.run.RunID,
			TurnID:      rs.turns[len(rs.turns)-1].TurnID,
			Verdict:     out.Verdict,
			Corrections: out.Corrections,
			Confidence:  out.Confidence,
			CreatedAt:   time.Now(),
		}
		if err := c.store.CreateCriticReport(ctx, report); err != nil {
			log.Printf("ERROR: failed to record critic report for %s: %v", rs.run.RunID, err)
		}
		return report, nil
	}
	return nil, lastErr
}

// runTurn performs one responder invocation and records it. Invalid
// invocations are recorded too, with the rejection note, so the trail
// stays complete.
func (c *Controller) runTurn(ctx context.Context, rs *runState, name string, req responder.Request) (*domain.StructuredOutput, *turnDispatcher, *domain.RunError) {
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.NewRunError(domain.ErrRunTimeout, "run timed out: %v", err)
	}

	resp := c.responders[name]
	rs.seq++
	turn := domain.Turn{
		TurnID:    "turn_" + uuid.New().String()[:8],
		RunID:     rs.run.RunID,
		Seq:       rs.seq,
		Responder: name,
		Input:     turnInput(req),
		CreatedAt: time.Now(),
	}
	disp := &turnDispatcher{c: c, runID: rs.run.RunID, turnID: turn.TurnID, doc: rs.doc}

	out, raw, _, err := resp.Respond(ctx, req, disp)
	turn.Output = raw
	var runErr *domain.RunError
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = domain.NewRunError(domain.ErrRunTimeout, "run timed out: %v", ctxErr)
		} else if re, ok := err.(*domain.RunError); ok {
			runErr = re
		} else {
			runErr = domain.NewRunError(domain.ErrMalformedOutput, "responder %s failed: %v", name, err)
		}
		turn.Note = runErr.Error()
	}
	if storeErr := c.store.CreateTurn(ctx, &turn); storeErr != nil {
		log.Printf("ERROR: failed to record turn %s: %v", turn.TurnID, storeErr)
	}
	rs.turns = append(rs.turns, turn)
	if runErr != nil {
		return nil, disp, runErr
	}
	return out, disp, nil
}

func (c *Controller) recordHandoff(ctx context.Context, rs *runState, from string, req *domain.HandoffRequest, accepted bool) {
	ho := &domain.HandoffEvent{
		HandoffID: "ho_" + uuid.New().String()[:8],
		RunID:     rs.run.RunID,
		TurnID:    rs.turns[len(rs.turns)-1].TurnID,
		From:      from,
		To:        req.Target,
		Rationale: req.Rationale,
		Excerpt:   req.Excerpt,
		Accepted:  accepted,
		CreatedAt: time.Now(),
	}
	if err := c.store.CreateHandoff(ctx, ho); err != nil {
		log.Printf("ERROR: failed to record handoff for %s: %v", rs.run.RunID, err)
	}
}

func (c *Controller) advance(ctx context.Context, rs *runState, status domain.RunStatus, active string) {
	rs.run.Status = status
	rs.run.Responder = active
	if err := c.store.UpdateRunStatus(ctx, rs.run.RunID, status, active); err != nil {
		log.Printf("ERROR: failed to advance run %s to %s: %v", rs.run.RunID, status, err)
	}
}

// finish seals a run as DONE with its final answer and returns the trail.
func (c *Controller) finish(ctx context.Context, rs *runState, final *domain.FinalAnswer) (*domain.AuditTrail, error) {
	finalData, err := json.Marshal(final)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal final answer: %w", err)
	}
	if err := c.store.SealRun(ctx, rs.run.RunID, domain.RunStatusDone, finalData, nil); err != nil {
		return nil, fmt.Errorf("failed to seal run: %w", err)
	}
	return c.trail(ctx, rs.run.RunID)
}

// fail seals a run as FAILED. The partial trail plus the explicit failure
// reason is still returned: violations are never silently ignored.
func (c *Controller) fail(rs *runState, runErr *domain.RunError) (*domain.AuditTrail, error) {
	// Sealing must survive an expired run context.
	sealCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errData, _ := json.Marshal(runErr)
	if err := c.store.SealRun(sealCtx, rs.run.RunID, domain.RunStatusFailed, nil, errData); err != nil {
		return nil, fmt.Errorf("failed to seal run: %w", err)
	}
	log.Printf("WARN: run %s failed: %v", rs.run.RunID, runErr)
	return c.trail(sealCtx, rs.run.RunID)
}

func (c *Controller) trail(ctx context.Context, runID string) (*domain.AuditTrail, error) {
	trail, err := c.store.GetAuditTrail(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return trail, nil
}

func turnInput(req responder.Request) string {
	var b strings.Builder
	b.WriteString(req.Question.Text)
	if req.Excerpt != "" {
		b.WriteString("\n[excerpt] ")
		b.WriteString(req.Excerpt)
	}
	if req.Instruction != "" {
		b.WriteString("\n[instruction] ")
		b.WriteString(req.Instruction)
	}
	return b.String()
}

// countDocSearches counts document searches that were actually dispatched.
// Policy denials never reach the adapter and carry zero attempts; a search
// that exhausted its retries still counts as issued.
func countDocSearches(calls []domain.ToolCall) int {
	n := 0
	for _, tc := range calls {
		if tc.Tool == domain.ToolDocumentSearch && tc.Attempts > 0 {
			n++
		}
	}
	return n
}
