package search

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"finsage/internal/domain"
)

// DocumentSearch retrieves snippets from a fixed, pre-indexed corpus tied
// to a question's context reference. The index is built once at load and is
// read-only afterwards, so one instance is safe to share across runs.
type DocumentSearch struct {
	source string
	entity string
	chunks []chunk
}

type chunk struct {
	text   string
	source string
	tokens map[string]bool
}

// Chunking granularity: windowLines lines per snippet, overlapping by half
// a window so line-boundary figures are not split away from their labels.
const (
	windowLines = 6
	windowStep  = 3
)

// NewDocumentSearch indexes the corpus file at path. A missing or empty
// corpus is a permanent error: there is nothing to retry against.
func NewDocumentSearch(path string) (*DocumentSearch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("context corpus %s unreadable: %w", path, err)
	}
	return NewDocumentSearchFromText(path, string(data))
}

// NewDocumentSearchFromText indexes corpus text directly. Used by tests and
// by callers that already hold the corpus in memory.
func NewDocumentSearchFromText(source, text string) (*DocumentSearch, error) {
	lines := strings.Split(text, "\n")
	d := &DocumentSearch{source: source}

	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			d.entity = firstEntityPhrase(trimmed)
			break
		}
	}
	if d.entity == "" {
		return nil, fmt.Errorf("context corpus %s is empty", source)
	}

	for start := 0; start < len(lines); start += windowStep {
		end := start + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if window == "" {
			if end == len(lines) {
				break
			}
			continue
		}
		tokens := make(map[string]bool)
		for _, tok := range tokenize(window) {
			tokens[tok] = true
		}
		d.chunks = append(d.chunks, chunk{
			text:   window,
			source: fmt.Sprintf("%s:%d-%d", source, start+1, end),
			tokens: tokens,
		})
		if end == len(lines) {
			break
		}
	}
	return d, nil
}

// firstEntityPhrase extracts the leading name from the corpus headline,
// stopping at the first clearly non-name token.
func firstEntityPhrase(line string) string {
	words := strings.Fields(line)
	var name []string
	for _, w := range words {
		trimmed := strings.Trim(w, ".,:;()")
		if trimmed == "" {
			break
		}
		first := rune(trimmed[0])
		if first < 'A' || first > 'Z' {
			break
		}
		name = append(name, trimmed)
		if len(name) == 3 {
			break
		}
	}
	if len(name) == 0 {
		return line
	}
	return strings.Join(name, " ")
}

// Entity returns the company name the corpus describes.
func (d *DocumentSearch) Entity() string {
	return d.entity
}

// Contains reports whether the term appears anywhere in the corpus.
func (d *DocumentSearch) Contains(term string) bool {
	needle := strings.ToLower(term)
	for _, c := range d.chunks {
		if strings.Contains(strings.ToLower(c.text), needle) {
			return true
		}
	}
	return false
}

// Name implements Tool.
func (d *DocumentSearch) Name() string {
	return domain.ToolDocumentSearch
}

// Search implements Tool. Ranking is token overlap between the query and
// each chunk; ties break on source location so equal snapshots give equal
// orderings.
func (d *DocumentSearch) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("malformed query %q", query)
	}

	var results []Result
	for _, c := range d.chunks {
		overlap := 0
		for _, tok := range tokens {
			if c.tokens[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		results = append(results, Result{
			Snippet: c.text,
			Source:  c.source,
			Score:   float64(overlap) / float64(len(tokens)),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Source < results[j].Source
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

var _ Tool = (*DocumentSearch)(nil)
