package responder

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"

	"finsage/internal/domain"
)

// Dispatcher executes tool queries on behalf of a responder. The
// orchestrator implements it: it gates every query through policy, retries
// transients, and records the tool call on the audit trail. Dispatch
// returns evidence even for denied or failed calls; an error means the
// turn itself cannot continue (store failure, run cancelled).
type Dispatcher interface {
	Dispatch(ctx context.Context, resp string, q ToolQuery) (Evidence, error)
}

// Responder is one capability-bounded actor. The descriptor is fixed at
// construction; the generation backend is a shared black box. Responders
// hold no per-run state.
type Responder struct {
	desc Descriptor
	gen  Generator
}

// New builds a responder from its allowance descriptor and generation backend.
func New(desc Descriptor, gen Generator) *Responder {
	return &Responder{desc: desc, gen: gen}
}

// Descriptor returns the responder's immutable allowance configuration.
func (r *Responder) Descriptor() Descriptor {
	return r.desc
}

// Respond performs one turn: plan tool queries, dispatch them concurrently,
// join the evidence, and generate the structured output. The raw output is
// returned alongside the parsed form so malformed payloads can still be
// recorded on the audit trail.
func (r *Responder) Respond(ctx context.Context, req Request, disp Dispatcher) (*domain.StructuredOutput, json.RawMessage, []Evidence, error) {
	req.Responder = r.desc.Name

	queries, err := r.gen.PlanQueries(ctx, req)
	if err != nil {
		return nil, nil, nil, err
	}

	// Tool calls within a turn are read-only and mutually independent, so
	// they run concurrently; evidence is joined back in plan order.
	evidence := make([]Evidence, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			ev, err := disp.Dispatch(gctx, r.desc.Name, q)
			if err != nil {
				return err
			}
			evidence[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, evidence, err
	}

	req.Evidence = evidence
	raw, err := r.gen.Generate(ctx, req)
	if err != nil {
		return nil, raw, evidence, err
	}

	out, err := domain.ParseOutput(raw)
	if err != nil {
		return nil, raw, evidence, err
	}
	return out, raw, evidence, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
