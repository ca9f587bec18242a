package responder

import (
	"context"
	"encoding/json"

	"finsage/internal/domain"
	"finsage/internal/search"
)

// ToolQuery is one retrieval request a responder wants dispatched.
// Purpose names the formula variable (or other goal) the query serves, so
// the generator can tie results back to its plan.
type ToolQuery struct {
	Tool    string `json:"tool"`
	Query   string `json:"query"`
	Purpose string `json:"purpose,omitempty"`
}

// Evidence is the joined outcome of one dispatched tool query. Failed or
// denied calls still produce evidence, with Marker explaining the gap, so
// the generator reasons over explicit absence instead of fabricated values.
type Evidence struct {
	ToolCallID string                `json:"tool_call_id"`
	Tool       string                `json:"tool"`
	Query      string                `json:"query"`
	Purpose    string                `json:"purpose,omitempty"`
	Status     domain.ToolCallStatus `json:"status"`
	Results    []search.Result       `json:"results,omitempty"`
	Marker     string                `json:"marker,omitempty"`
}

// Found reports whether the evidence corroborates the exact phrase.
func (e Evidence) Found(phrase string) bool {
	if e.Status == domain.ToolCallStatusFailed {
		return false
	}
	for _, r := range e.Results {
		if containsFold(r.Snippet, phrase) {
			return true
		}
	}
	return false
}

// Request is the input to one generation-capability invocation: the
// accumulated conversation plus any tool evidence gathered this turn.
type Request struct {
	Responder    string
	Question     domain.Question
	Entity       string
	Conversation []domain.Turn
	Evidence     []Evidence
	// Excerpt carries the hand-off material when this responder was the
	// target of a control transfer.
	Excerpt string
	// Instruction is the corrective note attached on a bounded retry.
	Instruction string
}

// Generator is the black-box generation capability. PlanQueries decides
// which tool calls the responder wants for this turn; Generate produces the
// structured output once evidence is joined. Output may be malformed; the
// caller validates it.
type Generator interface {
	PlanQueries(ctx context.Context, req Request) ([]ToolQuery, error)
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}
