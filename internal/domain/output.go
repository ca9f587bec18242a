package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HandoffRequest is a responder signalling a control transfer in its output.
type HandoffRequest struct {
	Target    string `json:"target"`
	Rationale string `json:"rationale"`
	Excerpt   string `json:"excerpt"`
}

// StructuredOutput is the shape every responder must produce: the category
// restated, an answer or verdict, and an explicit assumptions list (which
// may be empty but must be present). Anything else is a turn-level
// validation failure.
type StructuredOutput struct {
	Category    Category        `json:"category"`
	Answer      string          `json:"answer,omitempty"`
	Rationale   string          `json:"rationale,omitempty"`
	Assumptions []string        `json:"assumptions"`
	Confidence  string          `json:"confidence,omitempty"`
	Handoff     *HandoffRequest `json:"handoff,omitempty"`

	// Critic-only fields.
	Verdict     Verdict  `json:"verdict,omitempty"`
	Corrections []string `json:"corrections,omitempty"`

	// Opaque working material (plans, formulas). The orchestrator does not
	// interpret it; it is carried for the audit trail.
	Detail json.RawMessage `json:"detail,omitempty"`
}

// ParseOutput decodes and validates a responder's raw output against the
// required shape. A parse or shape failure is a MalformedOutput condition.
func ParseOutput(raw json.RawMessage) (*StructuredOutput, error) {
	var out StructuredOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, NewRunError(ErrMalformedOutput, "output is not valid JSON: %v", err)
	}

	// The assumptions key must be present even when empty; an absent key
	// unmarshals to nil while an empty list unmarshals to [].
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, NewRunError(ErrMalformedOutput, "output is not a JSON object")
	}
	if _, ok := probe["assumptions"]; !ok {
		return nil, NewRunError(ErrMalformedOutput, "output lacks assumptions list")
	}
	if !out.Category.Valid() {
		return nil, NewRunError(ErrMalformedOutput, "output category %q is not one of basic/assumption/conceptual", out.Category)
	}
	if strings.TrimSpace(out.Answer) == "" && out.Verdict == "" && out.Handoff == nil && strings.TrimSpace(out.Rationale) == "" {
		return nil, NewRunError(ErrMalformedOutput, "output carries neither answer, verdict, rationale nor handoff")
	}
	if out.Handoff != nil {
		if out.Handoff.Target == "" {
			return nil, NewRunError(ErrMalformedOutput, "handoff lacks a target")
		}
		if strings.TrimSpace(out.Handoff.Excerpt) == "" {
			return nil, NewRunError(ErrMalformedOutput, "handoff excerpt is empty")
		}
	}
	if out.Verdict != "" && out.Verdict != VerdictConfirmed && out.Verdict != VerdictCorrected {
		return nil, NewRunError(ErrMalformedOutput, "unknown verdict %q", out.Verdict)
	}
	return &out, nil
}

// Encode marshals the output back to its canonical JSON form.
func (o *StructuredOutput) Encode() json.RawMessage {
	b, err := json.Marshal(o)
	if err != nil {
		// StructuredOutput contains only marshalable fields.
		panic(fmt.Sprintf("encode structured output: %v", err))
	}
	return b
}
