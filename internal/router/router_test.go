package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blackhole/internal/config"
	"blackhole/internal/descriptor"
	"blackhole/internal/journal"
	"blackhole/internal/logging"
	"blackhole/internal/services"
	"blackhole/internal/services/arr"
	"blackhole/internal/services/sabnzbd"
	"blackhole/internal/testsupport"
)

type fakeRefresher struct {
	mu     sync.Mutex
	dirs   []string
	err    error
	onCall func(dir string)
}

func (f *fakeRefresher) Refresh(_ context.Context, dir string) error {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(dir)
	}
	return f.err
}

type queueCall struct {
	path     string
	category string
	existed  bool
}

type fakeQueue struct {
	calls []queueCall
	err   error
}

func (f *fakeQueue) AddLocalFile(_ context.Context, path, category string) (sabnzbd.Submission, error) {
	_, statErr := os.Stat(path)
	f.calls = append(f.calls, queueCall{path: path, category: category, existed: statErr == nil})
	if f.err != nil {
		return sabnzbd.Submission{}, f.err
	}
	return sabnzbd.Submission{Status: true, IDs: []string{"SABnzbd_nzo_1"}}, nil
}

type fakeLibrary struct {
	kind       arr.Kind
	candidates []arr.Candidate
	lookupErr  error
	rescanErr  error
	terms      []string
	rescans    []int
}

func (f *fakeLibrary) Kind() arr.Kind { return f.kind }

func (f *fakeLibrary) Lookup(_ context.Context, term string) ([]arr.Candidate, error) {
	f.terms = append(f.terms, term)
	return f.candidates, f.lookupErr
}

func (f *fakeLibrary) Rescan(_ context.Context, id int) error {
	f.rescans = append(f.rescans, id)
	return f.rescanErr
}

type fakeRecorder struct {
	entries []journal.Entry
}

func (f *fakeRecorder) Record(_ context.Context, entry journal.Entry) (journal.Entry, error) {
	f.entries = append(f.entries, entry)
	return entry, nil
}

func directRequest(path, category string) Request {
	return Request{Path: path, Category: category, Verdict: descriptor.Verdict{Route: descriptor.RouteDirect, Attempts: 1}}
}

func queueRequest(path, category string) Request {
	return Request{Path: path, Category: category, Verdict: descriptor.Verdict{Route: descriptor.RouteQueue, Attempts: 1}}
}

func newTestRouter(t *testing.T, cfg *config.Config, refresher Refresher, queue Queue, opts ...Option) *Router {
	t.Helper()
	r, err := New(cfg, refresher, queue, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestDirectMovesIntoCompletedAndRefreshes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "Show.S01E01.nzb", testsupport.Streamable("Show.S01E01"))

	refresher := &fakeRefresher{}
	queue := &fakeQueue{}
	recorder := &fakeRecorder{}
	moves := 0
	r := newTestRouter(t, cfg, refresher, queue,
		WithRecorder(recorder),
		WithMover(func(from, to string) error {
			moves++
			return os.Rename(from, to)
		}),
	)
	if err := os.MkdirAll(filepath.Join(cfg.Paths.ImportRoot, "sonarr", "completed"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := r.Route(context.Background(), directRequest(src, "sonarr"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := filepath.Join(cfg.Paths.ImportRoot, "sonarr", "completed", "Show.S01E01.nzb")
	if result.Destination != want {
		t.Fatalf("destination = %q, want %q", result.Destination, want)
	}
	if moves != 1 {
		t.Fatalf("expected exactly one move, got %d", moves)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("source still present: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if len(refresher.dirs) != 1 || refresher.dirs[0] != "/Import/sonarr/completed" {
		t.Fatalf("unexpected refresh dirs: %v", refresher.dirs)
	}
	if !result.Refreshed || result.Outcome != journal.OutcomeMoved {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(queue.calls) != 0 {
		t.Fatalf("direct route must not submit: %+v", queue.calls)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Outcome != journal.OutcomeMoved || recorder.entries[0].Destination != want {
		t.Fatalf("unexpected journal entries: %+v", recorder.entries)
	}
}

func TestDirectPlacesBesideDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	tests := []struct {
		name        string
		dir         string
		category    string
		wantDir     string
		wantRefresh string
	}{
		{
			name:        "nested folder",
			dir:         filepath.Join(root, "sonarr", "season1"),
			category:    "season1",
			wantDir:     filepath.Join(root, "sonarr", "season1", "completed"),
			wantRefresh: "/Import/sonarr/season1/completed",
		},
		{
			name:        "import root",
			dir:         root,
			category:    filepath.Base(root),
			wantDir:     filepath.Join(root, "completed"),
			wantRefresh: "/Import/completed",
		},
		{
			name:        "case differs from configured category",
			dir:         filepath.Join(root, "Sonarr"),
			category:    "Sonarr",
			wantDir:     filepath.Join(root, "Sonarr", "completed"),
			wantRefresh: "/Import/Sonarr/completed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testsupport.WriteDescriptor(t, tt.dir, "Show.S01E01.nzb", testsupport.Streamable("Show.S01E01"))
			refresher := &fakeRefresher{}
			r := newTestRouter(t, cfg, refresher, &fakeQueue{})

			result, err := r.Route(context.Background(), directRequest(src, tt.category))
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			want := filepath.Join(tt.wantDir, "Show.S01E01.nzb")
			if result.Destination != want {
				t.Fatalf("destination = %q, want %q", result.Destination, want)
			}
			if _, err := os.Stat(want); err != nil {
				t.Fatalf("destination missing: %v", err)
			}
			if len(refresher.dirs) != 1 || refresher.dirs[0] != tt.wantRefresh {
				t.Fatalf("refresh dirs = %v, want [%s]", refresher.dirs, tt.wantRefresh)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(root, "season1")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("nested category must not create a top-level directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.Base(root))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("root-level drop must not create a nested import directory: %v", err)
	}
}

func TestDirectRefreshFailureIsSwallowed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "radarr"), "Film.2001.nzb", testsupport.Streamable("Film.2001"))

	refresher := &fakeRefresher{err: services.Wrap(services.ErrRemoteCall, "rclone", "refresh", "boom", nil)}
	r := newTestRouter(t, cfg, refresher, &fakeQueue{})

	result, err := r.Route(context.Background(), directRequest(src, "radarr"))
	if err != nil {
		t.Fatalf("refresh failure should not fail routing: %v", err)
	}
	if result.Refreshed {
		t.Fatal("expected Refreshed=false")
	}
	if _, err := os.Stat(result.Destination); err != nil {
		t.Fatalf("descriptor not moved: %v", err)
	}
}

func TestDirectMoveFailureLeavesSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "Show.nzb", testsupport.Streamable("Show"))
	refresher := &fakeRefresher{}
	recorder := &fakeRecorder{}
	r := newTestRouter(t, cfg, refresher, &fakeQueue{},
		WithRecorder(recorder),
		WithMover(func(string, string) error { return errors.New("disk full") }),
	)

	_, err := r.Route(context.Background(), directRequest(src, "sonarr"))
	if !errors.Is(err, services.ErrIOFailure) {
		t.Fatalf("expected io failure, got %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatalf("source should remain: %v", statErr)
	}
	if len(refresher.dirs) != 0 {
		t.Fatal("refresh must not run after a failed move")
	}
	if len(recorder.entries) != 1 || recorder.entries[0].ErrorKind != "io_failure" {
		t.Fatalf("unexpected journal entries: %+v", recorder.entries)
	}
}

func TestQueueSuccessDeletesDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCategories(config.Category{Name: "sonarr", QueueLabel: "tv"}))
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "Show.S01.nzb", testsupport.Archive("Show.S01"))

	queue := &fakeQueue{}
	refresher := &fakeRefresher{}
	r := newTestRouter(t, cfg, refresher, queue)

	result, err := r.Route(context.Background(), queueRequest(src, "sonarr"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(queue.calls) != 1 || queue.calls[0].category != "tv" || !queue.calls[0].existed {
		t.Fatalf("unexpected submissions: %+v", queue.calls)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("descriptor should be deleted after submission: %v", err)
	}
	if result.Outcome != journal.OutcomeSubmitted || len(result.QueueIDs) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(refresher.dirs) != 0 {
		t.Fatal("queue route must not refresh")
	}
}

func TestQueueFailureLeavesDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "radarr"), "Film.nzb", testsupport.Archive("Film"))

	queue := &fakeQueue{err: services.Wrap(services.ErrRemoteCall, "sabnzbd", "addlocalfile", "status false", nil)}
	recorder := &fakeRecorder{}
	r := newTestRouter(t, cfg, &fakeRefresher{}, queue, WithRecorder(recorder))

	_, err := r.Route(context.Background(), queueRequest(src, "radarr"))
	if !errors.Is(err, services.ErrRemoteCall) {
		t.Fatalf("expected remote call failure, got %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatalf("descriptor must stay in place: %v", statErr)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Outcome != journal.OutcomeFailed || recorder.entries[0].ErrorKind != "remote_call_failure" {
		t.Fatalf("unexpected journal entries: %+v", recorder.entries)
	}
}

func TestUnknownCategoryUsesDefaultPlan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	r := newTestRouter(t, cfg, &fakeRefresher{}, &fakeQueue{})

	targets, known := r.TargetsFor("Lidarr")
	if known {
		t.Fatal("expected unknown category")
	}
	if targets.Queue.Label != "Lidarr" {
		t.Fatalf("label = %q", targets.Queue.Label)
	}
	completed, ok := targets.Direct.(CompletedTarget)
	src := filepath.Join(cfg.Paths.ImportRoot, "Lidarr", "album.nzb")
	if !ok || completed.Dir(src) != filepath.Join(cfg.Paths.ImportRoot, "Lidarr", "completed") {
		t.Fatalf("unexpected direct target: %#v", targets.Direct)
	}

	if targets, known := r.TargetsFor("SONARR"); !known || targets.Category != "sonarr" {
		t.Fatalf("category lookup should ignore case: %+v %v", targets, known)
	}
}

func TestLibraryPlacesIntoSeriesFolder(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLibrary("sonarr", config.LibraryKindSeries, "http://sonarr.invalid"))
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "The.Show.S01E02.1080p.WEB.nzb", testsupport.Streamable("The.Show.S01E02"))

	library := &fakeLibrary{kind: arr.KindSeries, candidates: []arr.Candidate{{ID: 42, Title: "The Show", Path: "/tv/The Show (2019)"}}}
	refresher := &fakeRefresher{}
	// Simulate the mount catching up once the cache is refreshed.
	refresher.onCall = func(dir string) {
		visible := filepath.Join(cfg.Paths.MountRoot, filepath.FromSlash(strings.TrimPrefix(dir, "/")), "The.Show.S01E02.1080p.WEB.nzb")
		testsupport.WriteRaw(t, visible, "x")
	}
	r := newTestRouter(t, cfg, refresher, &fakeQueue{}, WithLibrary("sonarr", library))

	result, err := r.Route(context.Background(), directRequest(src, "sonarr"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := filepath.Join(cfg.Paths.ContentRoot, "sonarr", "The Show (2019)", "The.Show.S01E02.1080p.WEB.nzb")
	if result.Destination != want {
		t.Fatalf("destination = %q, want %q", result.Destination, want)
	}
	if len(library.terms) != 1 || library.terms[0] != "The Show" {
		t.Fatalf("unexpected lookup terms: %v", library.terms)
	}
	if len(refresher.dirs) != 1 || refresher.dirs[0] != "/sonarr/The Show (2019)" {
		t.Fatalf("unexpected refresh dirs: %v", refresher.dirs)
	}
	if !result.Confirmed || !result.Rescanned {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(library.rescans) != 1 || library.rescans[0] != 42 {
		t.Fatalf("unexpected rescans: %v", library.rescans)
	}
}

func TestLibraryLookupFailureAbortsBeforeMove(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLibrary("radarr", config.LibraryKindMovie, "http://radarr.invalid"))
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "radarr"), "Film.Name.2001.1080p.nzb", testsupport.Streamable("Film.Name.2001"))

	tests := []struct {
		name    string
		library *fakeLibrary
	}{
		{"error", &fakeLibrary{kind: arr.KindMovie, lookupErr: services.Wrap(services.ErrRemoteCall, "arr", "lookup", "401", nil)}},
		{"empty", &fakeLibrary{kind: arr.KindMovie}},
		{"no folder", &fakeLibrary{kind: arr.KindMovie, candidates: []arr.Candidate{{Title: "Film Name"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{}
			r := newTestRouter(t, cfg, refresher, &fakeQueue{}, WithLibrary("radarr", tt.library))
			_, err := r.Route(context.Background(), directRequest(src, "radarr"))
			if !errors.Is(err, services.ErrRemoteCall) {
				t.Fatalf("expected remote call failure, got %v", err)
			}
			if _, statErr := os.Stat(src); statErr != nil {
				t.Fatalf("descriptor must stay in place: %v", statErr)
			}
			if len(refresher.dirs) != 0 {
				t.Fatal("refresh must not run when lookup fails")
			}
		})
	}
}

func TestLibraryUnconfirmedStillRescans(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLibrary("radarr", config.LibraryKindMovie, "http://radarr.invalid"))
	src := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "radarr"), "Film.Name.2001.nzb", testsupport.Streamable("Film.Name.2001"))

	library := &fakeLibrary{kind: arr.KindMovie, candidates: []arr.Candidate{{ID: 7, Title: "Film Name", FolderName: "Film Name (2001)"}}}
	sleeps := 0
	r := newTestRouter(t, cfg, &fakeRefresher{}, &fakeQueue{},
		WithLibrary("radarr", library),
		WithSleep(func(context.Context, time.Duration) error {
			sleeps++
			return nil
		}),
	)

	result, err := r.Route(context.Background(), directRequest(src, "radarr"))
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Confirmed {
		t.Fatal("expected unconfirmed placement")
	}
	if sleeps != cfg.Rclone.ConfirmAttempts-1 {
		t.Fatalf("sleeps = %d, want %d", sleeps, cfg.Rclone.ConfirmAttempts-1)
	}
	if len(library.terms) != 1 || library.terms[0] != "Film Name 2001" {
		t.Fatalf("unexpected lookup terms: %v", library.terms)
	}
	if !result.Rescanned {
		t.Fatal("expected rescan after unconfirmed placement")
	}
}

func TestRecordFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	recorder := &fakeRecorder{}
	r := newTestRouter(t, cfg, nil, nil, WithRecorder(recorder))

	ctx := services.WithCorrelationID(context.Background(), "abc")
	cause := services.Wrap(services.ErrMalformedDescriptor, "descriptor", "parse", "unexpected EOF", nil)
	r.RecordFailure(ctx, "/x/sonarr/bad.nzb", "sonarr", 4, cause)

	if len(recorder.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Outcome != journal.OutcomeFailed || entry.Attempts != 4 || entry.CorrelationID != "abc" || entry.ErrorKind != "malformed_descriptor" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestNewFromConfigUsesHTTPClients(t *testing.T) {
	var submitted, refreshed string
	sab := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		submitted = r.URL.Query().Get("cat")
		_, _ = w.Write([]byte(`{"status":true,"nzo_ids":["SABnzbd_nzo_x"]}`))
	}))
	defer sab.Close()
	rc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshed = r.URL.Query().Get("dir")
		_, _ = w.Write([]byte(`{"result":{"ok":"OK"}}`))
	}))
	defer rc.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSABnzbd(sab.URL), testsupport.WithRclone(rc.URL))
	r, err := NewFromConfig(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	queued := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "radarr"), "Film.nzb", testsupport.Archive("Film"))
	if _, err := r.Route(context.Background(), queueRequest(queued, "radarr")); err != nil {
		t.Fatalf("queue route: %v", err)
	}
	if submitted != "radarr" {
		t.Fatalf("submitted category = %q", submitted)
	}

	direct := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "Show.nzb", testsupport.Streamable("Show"))
	if _, err := r.Route(context.Background(), directRequest(direct, "sonarr")); err != nil {
		t.Fatalf("direct route: %v", err)
	}
	if refreshed != "/Import/sonarr/completed" {
		t.Fatalf("refreshed dir = %q", refreshed)
	}
}
