// Package policy enforces the responder capability matrix with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy rules.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine evaluates tool allowance and hand-off legality for responders.
// It is immutable after construction and safe to share across runs.
type Engine struct {
	toolQuery    rego.PreparedEvalQuery
	handoffQuery rego.PreparedEvalQuery
}

// NewEngine compiles the given rego policy and prepares both queries.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	toolQuery, err := rego.New(
		rego.Query("data.responder_policy.tool_decision"),
		rego.Module("responder_policy.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tool query: %w", err)
	}

	handoffQuery, err := rego.New(
		rego.Query("data.responder_policy.handoff_decision"),
		rego.Module("responder_policy.rego", policyContent),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare handoff query: %w", err)
	}

	return &Engine{toolQuery: toolQuery, handoffQuery: handoffQuery}, nil
}

// ToolDecision reports whether the responder may invoke the tool.
func (e *Engine) ToolDecision(ctx context.Context, responder, tool string) (string, error) {
	return evaluate(ctx, e.toolQuery, map[string]interface{}{
		"responder": responder,
		"tool":      tool,
	})
}

// HandoffDecision reports whether `from` may transfer control to `to`.
func (e *Engine) HandoffDecision(ctx context.Context, from, to string) (string, error) {
	return evaluate(ctx, e.handoffQuery, map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

func evaluate(ctx context.Context, query rego.PreparedEvalQuery, input interface{}) (string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines defaults; an empty result means the rule is missing.
		return DecisionDeny, nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// DefaultPolicy encodes the responder capability matrix: which tools each
// responder variant may invoke, and which hand-off targets are legal.
const DefaultPolicy = `
package responder_policy

import rego.v1

default tool_decision := "deny"

allowed_tools := {
	"triage": {"document.search", "web.search"},
	"basic": {"document.search"},
	"assumption": {"document.search", "web.search"},
	"critic": {"document.search", "web.search"},
}

tool_decision := "allow" if allowed_tools[input.responder][input.tool]

default handoff_decision := "deny"

allowed_handoffs := {
	"assumption": {"critic"},
}

handoff_decision := "allow" if allowed_handoffs[input.from][input.to]
`
