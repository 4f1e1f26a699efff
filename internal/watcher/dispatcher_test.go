package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blackhole/internal/config"
	"blackhole/internal/logging"
	"blackhole/internal/testsupport"
)

type recordingHandler struct {
	mu   sync.Mutex
	jobs []Job
	seen chan Job
	fn   func(Job)
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan Job, 64)}
}

func (h *recordingHandler) Handle(_ context.Context, job Job) {
	if h.fn != nil {
		h.fn(job)
	}
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	h.mu.Unlock()
	h.seen <- job
}

func (h *recordingHandler) paths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.jobs))
	for _, job := range h.jobs {
		out = append(out, job.Path)
	}
	return out
}

func waitForJob(t *testing.T, h *recordingHandler, path string) Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case job := <-h.seen:
			if job.Path == path {
				return job
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (handled %v)", path, h.paths())
		}
	}
}

func waitForState(t *testing.T, d *Dispatcher, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for d.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("dispatcher state %s, want %s", d.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShouldDispatch(t *testing.T) {
	root := "/srv/Import"
	tests := []struct {
		path string
		want bool
	}{
		{"/srv/Import/sonarr/show.nzb", true},
		{"/srv/Import/sonarr/SHOW.NZB", true},
		{"/srv/Import/sonarr/season/show.nzb", true},
		{"/srv/Import/sonarr/completed/show.nzb", false},
		{"/srv/Import/sonarr/Completed/show.nzb", false},
		{"/srv/Import/completed/show.nzb", false},
		{"/srv/Import/sonarr/completed-ish/show.nzb", true},
		{"/srv/Import/sonarr/show.nzb.tmp", false},
		{"/srv/Import/sonarr/show.txt", false},
		{"/srv/Other/show.nzb", false},
	}
	for _, tt := range tests {
		if got := ShouldDispatch(root, tt.path); got != tt.want {
			t.Errorf("ShouldDispatch(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf("/srv/Import/radarr/film.nzb"); got != "radarr" {
		t.Fatalf("CategoryOf = %q", got)
	}
}

func TestBootstrapCountsCreatedDirectories(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := New(cfg, newRecordingHandler(), logging.NewNop())

	created, err := d.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if created != 5 {
		t.Fatalf("created = %d, want 5", created)
	}
	for _, dir := range []string{"sonarr", "radarr"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.ImportRoot, dir, config.CompletedDirName)); err != nil {
			t.Fatalf("missing completed dir for %s: %v", dir, err)
		}
	}

	again, err := d.Bootstrap()
	if err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if again != 0 {
		t.Fatalf("second bootstrap created %d directories", again)
	}
}

func TestRunOnceDispatchesNestedAndRootLevelDescriptors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	top := testsupport.WriteDescriptor(t, root, "Movie.2020.nzb", testsupport.Streamable("Movie.2020"))
	nested := testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr", "season1"), "Show.S01E01.nzb", testsupport.Streamable("Show.S01E01"))

	handler := newRecordingHandler()
	if _, err := New(cfg, handler, logging.NewNop()).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	byPath := map[string]Job{}
	for _, job := range handler.jobs {
		byPath[job.Path] = job
	}
	if job, ok := byPath[top]; !ok || job.Category != filepath.Base(root) {
		t.Fatalf("root-level descriptor: %+v (found %v)", job, ok)
	}
	if job, ok := byPath[nested]; !ok || job.Category != "season1" {
		t.Fatalf("nested descriptor: %+v (found %v)", job, ok)
	}
}

func TestRunOnceSweepsDepthFirstSkippingCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	a := testsupport.WriteDescriptor(t, filepath.Join(root, "radarr"), "a.nzb", testsupport.Streamable("a"))
	b := testsupport.WriteDescriptor(t, filepath.Join(root, "radarr", "nested"), "b.nzb", testsupport.Streamable("b"))
	c := testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr"), "c.NZB", testsupport.Streamable("c"))
	testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr", "completed"), "done.nzb", testsupport.Streamable("done"))
	testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr", "COMPLETED", "deep"), "done2.nzb", testsupport.Streamable("done2"))
	testsupport.WriteRaw(t, filepath.Join(root, "sonarr", "notes.txt"), "x")

	handler := newRecordingHandler()
	d := New(cfg, handler, logging.NewNop())
	count, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	got := handler.paths()
	want := []string{a, b, c}
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled %v, want %v", got, want)
		}
	}
	for _, job := range handler.jobs {
		if job.Source != SourceSweep || job.CorrelationID == "" {
			t.Fatalf("unexpected job: %+v", job)
		}
	}
	if handler.jobs[1].Category != "nested" {
		t.Fatalf("category should be the immediate parent, got %q", handler.jobs[1].Category)
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s", d.State())
	}
}

func TestSweepFollowsSymlinkedDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	outside := testsupport.WriteDescriptor(t, t.TempDir(), "elsewhere.nzb", testsupport.Streamable("elsewhere"))
	linked := filepath.Join(root, "radarr", "linked.nzb")
	dangling := filepath.Join(root, "radarr", "dangling.nzb")
	if err := os.MkdirAll(filepath.Dir(linked), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, linked); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "missing.nzb"), dangling); err != nil {
		t.Fatal(err)
	}

	handler := newRecordingHandler()
	d := New(cfg, handler, logging.NewNop())
	count, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := handler.paths()
	if count != 1 || len(got) != 1 || got[0] != linked {
		t.Fatalf("count = %d, handled %v, want only %s", count, got, linked)
	}
}

func TestRunDispatchesSymlinkedDescriptor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	handler := newRecordingHandler()
	d := New(cfg, handler, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	waitForState(t, d, StateWatching)

	outside := testsupport.WriteDescriptor(t, t.TempDir(), "elsewhere.nzb", testsupport.Streamable("elsewhere"))
	linked := filepath.Join(cfg.Paths.ImportRoot, "sonarr", "linked.nzb")
	if err := os.Symlink(outside, linked); err != nil {
		t.Fatal(err)
	}
	waitForJob(t, handler, linked)

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDuplicateObservationDispatchedOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := testsupport.WriteDescriptor(t, filepath.Join(cfg.Paths.ImportRoot, "sonarr"), "dup.nzb", testsupport.Streamable("dup"))

	d := New(cfg, newRecordingHandler(), logging.NewNop())
	d.jobs = make(chan Job, 4)
	ctx := context.Background()
	if !d.enqueue(ctx, path, SourceSweep) {
		t.Fatal("first observation should enqueue")
	}
	if d.enqueue(ctx, path, SourceEvent) {
		t.Fatal("identical observation should be ignored")
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if !d.enqueue(ctx, path, SourceEvent) {
		t.Fatal("changed file should enqueue again")
	}
	if len(d.jobs) != 2 {
		t.Fatalf("queued %d jobs, want 2", len(d.jobs))
	}
}

func TestParallelCategoriesKeepFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithParallelCategories())
	root := cfg.Paths.ImportRoot
	var want []string
	for _, name := range []string{"a.nzb", "b.nzb", "c.nzb", "d.nzb"} {
		want = append(want, testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr"), name, testsupport.Streamable(name)))
		testsupport.WriteDescriptor(t, filepath.Join(root, "radarr"), name, testsupport.Streamable(name))
	}

	handler := newRecordingHandler()
	d := New(cfg, handler, logging.NewNop())
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var sonarr []string
	for _, job := range handler.jobs {
		if job.Category == "sonarr" {
			sonarr = append(sonarr, job.Path)
		}
	}
	if len(sonarr) != len(want) {
		t.Fatalf("sonarr jobs %v, want %v", sonarr, want)
	}
	for i := range want {
		if sonarr[i] != want[i] {
			t.Fatalf("sonarr order %v, want %v", sonarr, want)
		}
	}
	if len(handler.jobs) != 8 {
		t.Fatalf("handled %d jobs, want 8", len(handler.jobs))
	}
}

func TestPanicInHandlerDoesNotStopDispatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	first := testsupport.WriteDescriptor(t, filepath.Join(root, "radarr"), "a.nzb", testsupport.Streamable("a"))
	second := testsupport.WriteDescriptor(t, filepath.Join(root, "radarr"), "b.nzb", testsupport.Streamable("b"))

	handler := newRecordingHandler()
	handler.fn = func(job Job) {
		if job.Path == first {
			panic("boom")
		}
	}
	d := New(cfg, handler, logging.NewNop())
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	got := handler.paths()
	if len(got) != 1 || got[0] != second {
		t.Fatalf("handled %v, want only %s", got, second)
	}
}

func TestRunDispatchesLiveEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	root := cfg.Paths.ImportRoot
	existing := testsupport.WriteDescriptor(t, filepath.Join(root, "sonarr"), "existing.nzb", testsupport.Streamable("existing"))

	handler := newRecordingHandler()
	d := New(cfg, handler, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	waitForJob(t, handler, existing)
	waitForState(t, d, StateWatching)

	live := testsupport.WriteDescriptor(t, filepath.Join(root, "radarr"), "live.nzb", testsupport.Streamable("live"))
	job := waitForJob(t, handler, live)
	if job.Category != "radarr" {
		t.Fatalf("category = %q", job.Category)
	}

	// Output of the router must never come back as input.
	testsupport.WriteDescriptor(t, filepath.Join(root, "radarr", "completed"), "placed.nzb", testsupport.Streamable("placed"))

	// A new category directory is watched as soon as it appears.
	if err := os.MkdirAll(filepath.Join(root, "lidarr"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	fresh := testsupport.WriteDescriptor(t, filepath.Join(root, "lidarr"), "fresh.nzb", testsupport.Streamable("fresh"))
	waitForJob(t, handler, fresh)

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %s", d.State())
	}
	for _, path := range handler.paths() {
		if filepath.Base(path) == "placed.nzb" {
			t.Fatal("descriptor inside completed subtree was dispatched")
		}
	}
}
