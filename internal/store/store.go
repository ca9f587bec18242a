// Package store defines the audit persistence interface and implementations.
package store

import (
	"context"

	"finsage/internal/domain"
)

// Store persists runs and their append-only turn/tool-call/handoff history.
// Turns, tool calls and handoffs are never edited after creation; runs only
// move forward through status updates until sealed.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, responder string) error
	UpdateRunClassification(ctx context.Context, runID string, cls *domain.Classification) error
	SealRun(ctx context.Context, runID string, status domain.RunStatus, final []byte, errData []byte) error
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)

	// Append-only history
	CreateTurn(ctx context.Context, turn *domain.Turn) error
	CreateToolCall(ctx context.Context, tc *domain.ToolCall) error
	CreateHandoff(ctx context.Context, ho *domain.HandoffEvent) error
	CreateCriticReport(ctx context.Context, report *domain.CriticReport) error

	// GetAuditTrail reassembles the full ordered record of a run.
	GetAuditTrail(ctx context.Context, runID string) (*domain.AuditTrail, error)

	// Lifecycle
	Close() error
}
