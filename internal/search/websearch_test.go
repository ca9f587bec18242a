package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebSearchReferenceMode(t *testing.T) {
	ws := NewWebSearch("")

	results, err := ws.Search(context.Background(), "market debt to equity formula", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected reference entries for a known formula")
	}
	if !containsFold(results[0].Snippet, "market value of equity") {
		t.Fatalf("top result is not the debt-to-equity definition: %q", results[0].Snippet)
	}
}

func TestWebSearchReferenceModeEmptyQuery(t *testing.T) {
	ws := NewWebSearch("")

	if _, err := ws.Search(context.Background(), "   ", 3); err == nil {
		t.Fatal("expected empty query to fail")
	}
}

func TestWebSearchRemoteOK(t *testing.T) {
	want := []Result{{Snippet: "EV/Sales = enterprise value / net sales", Source: "https://example.com/ev", Score: 0.8}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "" {
			t.Error("missing q parameter")
		}
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.URL)
	results, err := ws.Search(context.Background(), "ev/sales", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Source != want[0].Source {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestWebSearchRemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.URL)
	_, err := ws.Search(context.Background(), "gross profit", 5)
	if err == nil {
		t.Fatal("expected 502 to fail")
	}
	if !IsTransient(err) {
		t.Fatal("5xx should be retryable")
	}
}

func TestWebSearchRemoteClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ws := NewWebSearch(srv.URL)
	_, err := ws.Search(context.Background(), "gross profit", 5)
	if err == nil {
		t.Fatal("expected 403 to fail")
	}
	if IsTransient(err) {
		t.Fatal("4xx is a permanent failure")
	}
}

func TestWebSearchRemoteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	ws := NewWebSearch(srv.URL)
	_, err := ws.Search(context.Background(), "gross profit", 5)
	if err == nil {
		t.Fatal("expected unreachable backend to fail")
	}
	if !IsTransient(err) {
		t.Fatal("connection errors should be retryable")
	}
}
