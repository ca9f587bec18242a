package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteGenerator calls an external generation service over HTTP. The
// service receives the full request (question, conversation, evidence) and
// returns either a query plan or a structured output; malformed responses
// surface to the caller as-is for validation.
type RemoteGenerator struct {
	baseURL string
	client  *http.Client
}

// NewRemoteGenerator creates a generator backed by the service at baseURL.
func NewRemoteGenerator(baseURL string, timeout time.Duration) *RemoteGenerator {
	return &RemoteGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ Generator = (*RemoteGenerator)(nil)

type remoteRequest struct {
	Responder    string          `json:"responder"`
	Question     string          `json:"question"`
	Entity       string          `json:"entity,omitempty"`
	Conversation json.RawMessage `json:"conversation,omitempty"`
	Evidence     []Evidence      `json:"evidence,omitempty"`
	Excerpt      string          `json:"excerpt,omitempty"`
	Instruction  string          `json:"instruction,omitempty"`
}

// PlanQueries implements Generator.
func (r *RemoteGenerator) PlanQueries(ctx context.Context, req Request) ([]ToolQuery, error) {
	body, err := r.post(ctx, "/v1/plan", req)
	if err != nil {
		return nil, err
	}
	var queries []ToolQuery
	if err := json.Unmarshal(body, &queries); err != nil {
		return nil, fmt.Errorf("failed to decode query plan: %w", err)
	}
	return queries, nil
}

// Generate implements Generator. The raw body is returned unvalidated; the
// responder layer decides whether it is well-shaped.
func (r *RemoteGenerator) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	return r.post(ctx, "/v1/generate", req)
}

func (r *RemoteGenerator) post(ctx context.Context, path string, req Request) (json.RawMessage, error) {
	conv, _ := json.Marshal(req.Conversation)
	payload, err := json.Marshal(remoteRequest{
		Responder:    req.Responder,
		Question:     req.Question.Text,
		Entity:       req.Entity,
		Conversation: conv,
		Evidence:     req.Evidence,
		Excerpt:      req.Excerpt,
		Instruction:  req.Instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation service returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
