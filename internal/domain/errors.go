package domain

import "fmt"

// ErrorKind classifies run-level failures.
type ErrorKind string

const (
	ErrToolTransient           ErrorKind = "tool_transient_failure"
	ErrToolNotPermitted        ErrorKind = "tool_not_permitted"
	ErrIllegalHandoff          ErrorKind = "illegal_handoff"
	ErrMalformedOutput         ErrorKind = "malformed_output"
	ErrMissingMandatoryHandoff ErrorKind = "missing_mandatory_handoff"
	ErrClassificationAmbiguous ErrorKind = "classification_ambiguous"
	ErrRunTimeout              ErrorKind = "run_timeout"
	ErrContextUnresolved       ErrorKind = "context_unresolved"
)

// RunError is a structured failure reason attached to a failed-terminal run.
type RunError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewRunError builds a RunError with a formatted message.
func NewRunError(kind ErrorKind, format string, args ...interface{}) *RunError {
	return &RunError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
