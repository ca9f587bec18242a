package policy

import (
	"context"
	"testing"

	"finsage/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to build policy engine: %v", err)
	}
	return engine
}

func TestToolDecisionMatrix(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		responder string
		tool      string
		want      string
	}{
		{domain.ResponderTriage, domain.ToolDocumentSearch, DecisionAllow},
		{domain.ResponderTriage, domain.ToolWebSearch, DecisionAllow},
		{domain.ResponderBasic, domain.ToolDocumentSearch, DecisionAllow},
		{domain.ResponderBasic, domain.ToolWebSearch, DecisionDeny},
		{domain.ResponderAssumption, domain.ToolDocumentSearch, DecisionAllow},
		{domain.ResponderAssumption, domain.ToolWebSearch, DecisionAllow},
		{domain.ResponderConceptual, domain.ToolDocumentSearch, DecisionDeny},
		{domain.ResponderConceptual, domain.ToolWebSearch, DecisionDeny},
		{domain.ResponderCritic, domain.ToolDocumentSearch, DecisionAllow},
		{domain.ResponderCritic, domain.ToolWebSearch, DecisionAllow},
		{"unknown", domain.ToolDocumentSearch, DecisionDeny},
		{domain.ResponderBasic, "shell.exec", DecisionDeny},
	}

	for _, tt := range tests {
		got, err := engine.ToolDecision(ctx, tt.responder, tt.tool)
		if err != nil {
			t.Fatalf("ToolDecision(%s, %s) failed: %v", tt.responder, tt.tool, err)
		}
		if got != tt.want {
			t.Errorf("ToolDecision(%s, %s) = %s, want %s", tt.responder, tt.tool, got, tt.want)
		}
	}
}

func TestHandoffDecisionMatrix(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		from string
		to   string
		want string
	}{
		{domain.ResponderAssumption, domain.ResponderCritic, DecisionAllow},
		{domain.ResponderAssumption, domain.ResponderBasic, DecisionDeny},
		{domain.ResponderBasic, domain.ResponderCritic, DecisionDeny},
		{domain.ResponderConceptual, domain.ResponderCritic, DecisionDeny},
		{domain.ResponderCritic, domain.ResponderAssumption, DecisionDeny},
		{domain.ResponderTriage, domain.ResponderBasic, DecisionDeny},
	}

	for _, tt := range tests {
		got, err := engine.HandoffDecision(ctx, tt.from, tt.to)
		if err != nil {
			t.Fatalf("HandoffDecision(%s, %s) failed: %v", tt.from, tt.to, err)
		}
		if got != tt.want {
			t.Errorf("HandoffDecision(%s, %s) = %s, want %s", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewEngineRejectsInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package broken\n\nthis is not rego")
	if err == nil {
		t.Fatal("expected invalid policy to fail compilation")
	}
}
