package arr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blackhole/internal/services"
)

func TestLookupSeries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/series/lookup" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("term") != "The Show" {
			t.Fatalf("unexpected term %q", r.URL.Query().Get("term"))
		}
		if r.Header.Get("X-Api-Key") != "sonarr-key" {
			t.Fatalf("missing api key header")
		}
		_, _ = w.Write([]byte(`[{"id":7,"title":"The Show","year":2019,"folder":"The Show (2019)"},{"id":0,"title":"The Show UK"}]`))
	}))
	defer server.Close()

	client := NewClient(KindSeries, server.URL, "sonarr-key", time.Second, WithRateLimit(0))
	candidates, err := client.Lookup(context.Background(), "The Show")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if len(candidates) != 2 || candidates[0].ID != 7 {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
	if candidates[0].LibraryFolder() != "The Show (2019)" {
		t.Fatalf("unexpected folder %q", candidates[0].LibraryFolder())
	}
}

func TestLibraryFolderFallbacks(t *testing.T) {
	cases := []struct {
		candidate Candidate
		want      string
	}{
		{Candidate{FolderName: "/movies/Film (2001)"}, "Film (2001)"},
		{Candidate{Path: `D:\Movies\Film (2001)`}, "Film (2001)"},
		{Candidate{Title: "No Folder"}, ""},
	}
	for _, tc := range cases {
		if got := tc.candidate.LibraryFolder(); got != tc.want {
			t.Fatalf("LibraryFolder(%+v) = %q, want %q", tc.candidate, got, tc.want)
		}
	}
}

func TestRescanMovieCommand(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/command" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	client := NewClient(KindMovie, server.URL, "radarr-key", time.Second, WithRateLimit(0))
	if err := client.Rescan(context.Background(), 42); err != nil {
		t.Fatalf("Rescan returned error: %v", err)
	}
	if payload["name"] != "RescanMovie" || payload["movieId"] != float64(42) {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestLookupUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewClient(KindSeries, server.URL, "bad", time.Second).Lookup(context.Background(), "x")
	if !errors.Is(err, services.ErrRemoteCall) {
		t.Fatalf("expected remote call failure, got %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("Series"); err != nil || k != KindSeries {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind("music"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSystemStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/system/status" || r.Header.Get("X-Api-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"appName":"Radarr","version":"5.2.6"}`))
	}))
	defer server.Close()

	status, err := NewClient(KindMovie, server.URL, "key", time.Second).SystemStatus(context.Background())
	if err != nil {
		t.Fatalf("SystemStatus returned error: %v", err)
	}
	if status != "Radarr 5.2.6" {
		t.Fatalf("status = %q", status)
	}
	if _, err := NewClient(KindMovie, server.URL, "wrong", time.Second).SystemStatus(context.Background()); !errors.Is(err, services.ErrRemoteCall) {
		t.Fatalf("expected remote call failure, got %v", err)
	}
}
