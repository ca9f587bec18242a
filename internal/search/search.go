// Package search provides the capability adapters for the two external
// retrieval tools: document search over a fixed corpus and web search.
package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Result is one ranked (snippet, provenance) pair.
type Result struct {
	Snippet string  `json:"snippet"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Tool is the uniform adapter interface. Implementations are stateless and
// deterministic given an identical backing snapshot: equal queries yield
// equal ranked results.
type Tool interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// TransientError marks a failure that the orchestrator may retry (timeout,
// temporary unavailability). Every other error is permanent and is not
// retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9.%/-]*`)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "in": true, "for": true,
	"is": true, "what": true, "to": true, "and": true, "or": true, "year": true,
	"ending": true, "ended": true, "with": true, "at": true, "per": true,
}

// tokenize lowercases and splits text into scoring tokens, dropping
// stopwords so that question phrasing does not dominate overlap scores.
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if stopwords[tok] || len(tok) < 2 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
