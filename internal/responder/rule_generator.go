package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"finsage/internal/domain"
)

// Faults configures deliberate misbehavior for scenario tests: withheld
// mandatory hand-offs, illegal hand-off targets, malformed output shapes,
// and ambiguous classifications.
type Faults struct {
	// WithholdHandoff makes the assumption variant omit its mandatory
	// hand-off for the first N turns.
	WithholdHandoff int
	// HandoffTarget overrides the assumption variant's hand-off target.
	HandoffTarget string
	// Malformed makes the named responder emit a shapeless output for the
	// first N turns.
	Malformed map[string]int
	// AmbiguousTriage makes the classifier emit an unknown category for the
	// first N turns.
	AmbiguousTriage int
	// CriticCorrects makes the critic return a corrected verdict.
	CriticCorrects bool
}

// RuleGenerator is the deterministic generation backend used in mock mode
// and in tests. It encodes the triage policy and the per-variant answer
// construction; identical inputs and evidence produce identical outputs.
type RuleGenerator struct {
	mu     sync.Mutex
	faults Faults
}

// NewRuleGenerator creates a well-behaved rule generator.
func NewRuleGenerator() *RuleGenerator {
	return &RuleGenerator{}
}

// NewFaultyRuleGenerator creates a rule generator with injected faults.
func NewFaultyRuleGenerator(f Faults) *RuleGenerator {
	return &RuleGenerator{faults: f}
}

var _ Generator = (*RuleGenerator)(nil)

// PlanQueries implements Generator.
func (g *RuleGenerator) PlanQueries(ctx context.Context, req Request) ([]ToolQuery, error) {
	q := req.Question.Text

	switch req.Responder {
	case domain.ResponderTriage:
		if Definitional(q) || !ConcernsEntity(q, req.Entity) || !Tactical(q) {
			// Conceptual path: no corroboration needed.
			return nil, nil
		}
		return variableQueries(domain.ToolDocumentSearch, q), nil

	case domain.ResponderBasic:
		return variableQueries(domain.ToolDocumentSearch, q), nil

	case domain.ResponderAssumption:
		queries := variableQueries(domain.ToolDocumentSearch, q)
		if f := LookupFormula(q); f != nil {
			queries = append(queries, ToolQuery{
				Tool:    domain.ToolWebSearch,
				Query:   f.Metric + " formula calculation",
				Purpose: "formula validation",
			})
		}
		return queries, nil

	case domain.ResponderConceptual:
		return nil, nil

	case domain.ResponderCritic:
		queries := variableQueries(domain.ToolDocumentSearch, q)
		if f := LookupFormula(q); f != nil {
			queries = append(queries, ToolQuery{
				Tool:    domain.ToolWebSearch,
				Query:   f.Metric + " formula calculation",
				Purpose: "formula re-validation",
			})
		}
		return queries, nil
	}
	return nil, fmt.Errorf("unknown responder %q", req.Responder)
}

// variableQueries plans one document search per formula variable, or a
// single search on the question itself when no formula matches.
func variableQueries(tool, question string) []ToolQuery {
	f := LookupFormula(question)
	if f == nil {
		return []ToolQuery{{Tool: tool, Query: question, Purpose: "direct lookup"}}
	}
	queries := make([]ToolQuery, 0, len(f.Vars))
	for _, v := range f.Vars {
		queries = append(queries, ToolQuery{Tool: tool, Query: v, Purpose: v})
	}
	return queries
}

// Generate implements Generator.
func (g *RuleGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.takeFault(req.Responder) {
		// Valid JSON, invalid shape: no assumptions list.
		return json.RawMessage(`{"category":"basic","answer":"unstructured"}`), nil
	}

	switch req.Responder {
	case domain.ResponderTriage:
		return g.classify(req)
	case domain.ResponderBasic:
		return g.answerBasic(req)
	case domain.ResponderAssumption:
		return g.answerAssumption(req)
	case domain.ResponderConceptual:
		return g.answerConceptual(req)
	case domain.ResponderCritic:
		return g.review(req)
	}
	return nil, fmt.Errorf("unknown responder %q", req.Responder)
}

func (g *RuleGenerator) classify(req Request) (json.RawMessage, error) {
	g.mu.Lock()
	if g.faults.AmbiguousTriage > 0 {
		g.faults.AmbiguousTriage--
		g.mu.Unlock()
		return json.RawMessage(`{"category":"tactical-unsure","rationale":"could be either","assumptions":[]}`), nil
	}
	g.mu.Unlock()

	q := req.Question.Text
	out := domain.StructuredOutput{Assumptions: []string{}}

	switch {
	case !ConcernsEntity(q, req.Entity):
		out.Category = domain.CategoryConceptual
		out.Rationale = fmt.Sprintf("the question does not concern %s, the entity described by the context", entityOr(req.Entity))
	case Definitional(q) || !Tactical(q):
		out.Category = domain.CategoryConceptual
		out.Rationale = "the question asks for the meaning of a term, not a figure"
	default:
		missing := missingVariables(q, req.Evidence)
		if len(missing) > 0 {
			out.Category = domain.CategoryAssumption
			out.Rationale = fmt.Sprintf("required variables not explicitly present in the context: %s", strings.Join(missing, ", "))
		} else {
			out.Category = domain.CategoryBasic
			out.Rationale = "every variable of the implied formula is explicitly present in the context"
		}
	}
	return out.Encode(), nil
}

func (g *RuleGenerator) answerBasic(req Request) (json.RawMessage, error) {
	out := domain.StructuredOutput{
		Category:    domain.CategoryBasic,
		Assumptions: []string{},
		Confidence:  "high",
	}

	var cites []string
	retrievable := false
	for _, ev := range req.Evidence {
		if ev.Status == domain.ToolCallStatusFailed {
			continue
		}
		if len(ev.Results) > 0 {
			retrievable = true
			cites = append(cites, fmt.Sprintf("%s: %s", ev.Purpose, firstLine(ev.Results[0].Snippet)))
		}
	}

	if !retrievable {
		out.Answer = fmt.Sprintf("Answer to %q derived without corroboration: context data not retrievable.", req.Question.Text)
		out.Assumptions = []string{"context data not retrievable"}
		out.Confidence = "low"
		return out.Encode(), nil
	}
	out.Answer = fmt.Sprintf("Answered directly from the context. %s", strings.Join(cites, "; "))
	return out.Encode(), nil
}

func (g *RuleGenerator) answerAssumption(req Request) (json.RawMessage, error) {
	q := req.Question.Text
	out := domain.StructuredOutput{
		Category:   domain.CategoryAssumption,
		Confidence: "medium",
	}

	missing := missingVariables(q, req.Evidence)
	var steps []string
	if f := LookupFormula(q); f != nil {
		steps = append(steps, fmt.Sprintf("formula: %s from %s", f.Metric, strings.Join(f.Vars, " / ")))
	}
	for _, ev := range req.Evidence {
		if ev.Purpose == "formula validation" && len(ev.Results) > 0 {
			steps = append(steps, "formula validated: "+firstLine(ev.Results[0].Snippet))
			continue
		}
		if ev.Found(ev.Purpose) {
			steps = append(steps, fmt.Sprintf("retrieved %s from %s", ev.Purpose, ev.Results[0].Source))
		}
	}
	out.Assumptions = make([]string, 0, len(missing))
	for _, v := range missing {
		out.Assumptions = append(out.Assumptions, fmt.Sprintf("estimated %s: not explicitly present in the context", v))
		steps = append(steps, fmt.Sprintf("assumed %s per industry practice", v))
	}
	out.Answer = fmt.Sprintf("Computed %q using %d documented assumption(s).", q, len(out.Assumptions))

	g.mu.Lock()
	withhold := g.faults.WithholdHandoff > 0
	if withhold {
		g.faults.WithholdHandoff--
	}
	target := domain.ResponderCritic
	if g.faults.HandoffTarget != "" {
		target = g.faults.HandoffTarget
	}
	g.mu.Unlock()

	if !withhold {
		out.Handoff = &domain.HandoffRequest{
			Target:    target,
			Rationale: "assumption-based calculation requires independent verification",
			Excerpt:   strings.Join(steps, "\n"),
		}
	}
	detail, _ := json.Marshal(map[string]interface{}{"plan": steps})
	out.Detail = detail
	return out.Encode(), nil
}

func (g *RuleGenerator) answerConceptual(req Request) (json.RawMessage, error) {
	q := req.Question.Text
	out := domain.StructuredOutput{
		Category:    domain.CategoryConceptual,
		Assumptions: []string{},
		Confidence:  "high",
	}
	if f := LookupFormula(q); f != nil {
		out.Answer = fmt.Sprintf("The metric %s is derived from %s; the question is answered from general financial principles rather than company data.",
			f.Metric, strings.Join(f.Vars, ", "))
	} else {
		out.Answer = fmt.Sprintf("Conceptual explanation of %q from general financial principles.", q)
	}
	return out.Encode(), nil
}

func (g *RuleGenerator) review(req Request) (json.RawMessage, error) {
	out := domain.StructuredOutput{
		Category:    domain.CategoryAssumption,
		Assumptions: []string{},
		Verdict:     domain.VerdictConfirmed,
		Corrections: []string{},
		Confidence:  "high",
	}
	g.mu.Lock()
	corrects := g.faults.CriticCorrects
	g.mu.Unlock()
	if corrects {
		out.Verdict = domain.VerdictCorrected
		out.Corrections = []string{"recomputed a step and adjusted the intermediate figure"}
		out.Confidence = "medium"
	}
	out.Answer = fmt.Sprintf("Reviewed the excerpt (%d lines) against the context; verdict %s.",
		len(strings.Split(req.Excerpt, "\n")), out.Verdict)
	return out.Encode(), nil
}

// takeFault consumes one malformed-output budget entry for the responder.
func (g *RuleGenerator) takeFault(resp string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.faults.Malformed == nil {
		return false
	}
	if g.faults.Malformed[resp] > 0 {
		g.faults.Malformed[resp]--
		return true
	}
	return false
}

// missingVariables lists the formula variables the gathered evidence does
// not explicitly corroborate.
func missingVariables(question string, evidence []Evidence) []string {
	f := LookupFormula(question)
	if f == nil {
		return nil
	}
	var missing []string
	for _, v := range f.Vars {
		found := false
		for _, ev := range evidence {
			if ev.Purpose == v && ev.Found(v) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, v)
		}
	}
	return missing
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func entityOr(entity string) string {
	if entity == "" {
		return "the context entity"
	}
	return entity
}
