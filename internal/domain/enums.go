// Package domain defines the core domain models for the triage orchestrator.
package domain

// Category is the triage decision for a question.
type Category string

const (
	CategoryBasic      Category = "basic"
	CategoryAssumption Category = "assumption"
	CategoryConceptual Category = "conceptual"
)

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBasic, CategoryAssumption, CategoryConceptual:
		return true
	}
	return false
}

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated        RunStatus = "CREATED"
	RunStatusClassified     RunStatus = "CLASSIFIED"
	RunStatusDelegated      RunStatus = "DELEGATED"
	RunStatusAwaitingReview RunStatus = "AWAITING_REVIEW"
	RunStatusDone           RunStatus = "DONE"
	RunStatusFailed         RunStatus = "FAILED"
)

// Terminal reports whether the status is absorbing. No turns may be
// appended to a run once it is terminal.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// ToolCallStatus represents the outcome of a tool call.
type ToolCallStatus string

const (
	// ToolCallStatusOK means the call succeeded on the first attempt.
	ToolCallStatusOK ToolCallStatus = "ok"
	// ToolCallStatusRetried means the call succeeded after at least one retry.
	ToolCallStatusRetried ToolCallStatus = "retried"
	// ToolCallStatusFailed means the call exhausted its retries or was denied.
	ToolCallStatusFailed ToolCallStatus = "failed"
)

// Verdict is the critic's judgement on a reviewed answer.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictCorrected Verdict = "corrected"
)

// Tool identifiers for the two capability adapters.
const (
	ToolDocumentSearch = "document.search"
	ToolWebSearch      = "web.search"
)

// Responder names. The set is fixed at process start.
const (
	ResponderTriage     = "triage"
	ResponderBasic      = "basic"
	ResponderAssumption = "assumption"
	ResponderConceptual = "conceptual"
	ResponderCritic     = "critic"
)
