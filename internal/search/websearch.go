package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"finsage/internal/domain"
)

// WebSearch is the adapter for the open web search tool. With a backend URL
// configured it proxies queries to that endpoint; without one it answers
// from an embedded set of finance reference entries so batch runs work
// offline and tests stay deterministic.
type WebSearch struct {
	baseURL string
	client  *http.Client
}

// NewWebSearch creates a web search adapter. An empty baseURL selects the
// offline reference fixture.
func NewWebSearch(baseURL string) *WebSearch {
	return &WebSearch{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Name implements Tool.
func (w *WebSearch) Name() string {
	return domain.ToolWebSearch
}

// Search implements Tool.
func (w *WebSearch) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("malformed query: empty")
	}
	if w.baseURL == "" {
		return w.searchReference(query, limit)
	}

	u := fmt.Sprintf("%s?q=%s&limit=%d", w.baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		// Network errors and timeouts are retryable.
		return nil, Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("web search backend returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search backend returned %d", resp.StatusCode)
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode web search response: %w", err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchReference ranks the embedded reference entries by token overlap.
func (w *WebSearch) searchReference(query string, limit int) ([]Result, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("malformed query %q", query)
	}

	var results []Result
	for _, entry := range referenceEntries {
		overlap := 0
		for _, tok := range tokens {
			if entry.tokens[tok] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		results = append(results, Result{
			Snippet: entry.snippet,
			Source:  entry.source,
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

type referenceEntry struct {
	snippet string
	source  string
	tokens  map[string]bool
}

func makeEntry(snippet, source string) referenceEntry {
	tokens := make(map[string]bool)
	for _, tok := range tokenize(snippet) {
		tokens[tok] = true
	}
	return referenceEntry{snippet: snippet, source: source, tokens: tokens}
}

// referenceEntries are formula and methodology definitions the responders
// use to validate calculations when no live backend is configured.
var referenceEntries = []referenceEntry{
	makeEntry("Market debt to equity ratio = total debt / market value of equity, where market value of equity = fully diluted shares outstanding x market share price.", "https://reference.finsage.dev/market-debt-to-equity"),
	makeEntry("Gross profit = net sales - cost of goods sold. It appears as a line item on the income statement.", "https://reference.finsage.dev/gross-profit"),
	makeEntry("Inventory turnover = cost of goods sold / average inventory for the period.", "https://reference.finsage.dev/inventory-turnover"),
	makeEntry("Adjusted EBITDA = operating income + depreciation and amortization + one-time expenses, adjusted for non-recurring items such as stock-based compensation.", "https://reference.finsage.dev/adjusted-ebitda"),
	makeEntry("EV/Sales ratio = enterprise value / net sales, where enterprise value = market capitalization + total debt - cash and cash equivalents.", "https://reference.finsage.dev/ev-sales"),
	makeEntry("Fully diluted shares outstanding = common shares + RSUs + PSUs + in-the-money options and warrants under the treasury stock method.", "https://reference.finsage.dev/diluted-shares"),
	makeEntry("Variable lease liability can be estimated as operating lease liability x (variable lease costs / operating lease costs), a common industry approximation.", "https://reference.finsage.dev/variable-lease"),
	makeEntry("Unlevered IRR removes the effect of leverage; for equal levered IRRs, the investment using fewer turns of leverage has the higher unlevered IRR.", "https://reference.finsage.dev/unlevered-irr"),
}

var _ Tool = (*WebSearch)(nil)
