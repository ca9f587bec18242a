package domain

import (
	"encoding/json"
	"time"
)

// Question is the immutable unit of work submitted to the system.
// ContextRef points at the document corpus the question is asked against.
// Entity names the company the corpus describes; when empty it is derived
// from the corpus itself.
type Question struct {
	ID         string `json:"id" yaml:"id"`
	Text       string `json:"text" yaml:"text"`
	ContextRef string `json:"context_ref" yaml:"context"`
	Entity     string `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// Classification is the triage decision for a question. Evidence holds the
// ids of the tool calls that corroborated the decision.
type Classification struct {
	Category  Category `json:"category"`
	Rationale string   `json:"rationale"`
	Evidence  []string `json:"evidence,omitempty"`
}

// Run represents a single execution of the orchestrator for one question.
type Run struct {
	RunID          string          `json:"run_id"`
	Question       Question        `json:"question"`
	Status         RunStatus       `json:"status"`
	Responder      string          `json:"responder,omitempty"` // active responder
	Classification *Classification `json:"classification,omitempty"`
	Final          json.RawMessage `json:"final,omitempty"` // FinalAnswer
	Error          json.RawMessage `json:"error,omitempty"` // RunError
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// Turn records one responder invocation. Output is immutable once recorded;
// invalid invocations are recorded too, with Note carrying the rejection
// reason, so the audit trail stays complete.
type Turn struct {
	TurnID    string          `json:"turn_id"`
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Responder string          `json:"responder"`
	Input     string          `json:"input"`
	Output    json.RawMessage `json:"output,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToolCall records one invocation of a capability adapter on behalf of a
// responder. The query/result pair is append-only.
type ToolCall struct {
	ToolCallID  string          `json:"tool_call_id"`
	RunID       string          `json:"run_id"`
	TurnID      string          `json:"turn_id"`
	Tool        string          `json:"tool"`
	Query       string          `json:"query"`
	Status      ToolCallStatus  `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// HandoffEvent records a control transfer between responders. Rejected
// attempts are recorded with Accepted=false and never transition state.
type HandoffEvent struct {
	HandoffID string    `json:"handoff_id"`
	RunID     string    `json:"run_id"`
	TurnID    string    `json:"turn_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Rationale string    `json:"rationale"`
	Excerpt   string    `json:"excerpt"`
	Accepted  bool      `json:"accepted"`
	CreatedAt time.Time `json:"created_at"`
}

// CriticReport is the independent verification result for an assumption run.
// The verdict annotates the underlying answer; it never overwrites it.
type CriticReport struct {
	ReportID    string    `json:"report_id"`
	RunID       string    `json:"run_id"`
	TurnID      string    `json:"turn_id"`
	Verdict     Verdict   `json:"verdict"`
	Corrections []string  `json:"corrections"`
	Confidence  string    `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
}

// FinalAnswer is the deliverable of a completed run: the answering
// responder's output, annotated with the critic report when the run went
// through mandatory review.
type FinalAnswer struct {
	Category Category         `json:"category"`
	Output   StructuredOutput `json:"output"`
	Critic   *CriticReport    `json:"critic,omitempty"`
}

// AuditTrail is the full ordered record of a run, reassembled from the
// store for replay and inspection.
type AuditTrail struct {
	Run      Run            `json:"run"`
	Turns    []Turn         `json:"turns"`
	Tools    []ToolCall     `json:"tool_calls"`
	Handoffs []HandoffEvent `json:"handoffs"`
	Critic   *CriticReport  `json:"critic_report,omitempty"`
}
