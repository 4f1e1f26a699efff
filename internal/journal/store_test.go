package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"blackhole/internal/journal"
	"blackhole/internal/testsupport"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.Record(ctx, journal.Entry{
		CorrelationID: "c-1",
		Path:          "/import/sonarr/a.nzb",
		Category:      "sonarr",
		Route:         "direct",
		Outcome:       journal.OutcomeMoved,
		Destination:   "/import/sonarr/completed/a.nzb",
		Attempts:      1,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", first)
	}
	if _, err := store.Record(ctx, journal.Entry{
		Path:      "/import/radarr/b.nzb",
		Category:  "radarr",
		Route:     "queue",
		Outcome:   journal.OutcomeFailed,
		ErrorKind: "remote_call_failure",
		Error:     "status false",
		Attempts:  2,
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := store.Recent(ctx, journal.Filter{})
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Category != "radarr" || entries[0].Error != "status false" || entries[0].Attempts != 2 {
		t.Fatalf("expected newest entry first, got %+v", entries[0])
	}
	if entries[1].Destination != "/import/sonarr/completed/a.nzb" || entries[1].CorrelationID != "c-1" {
		t.Fatalf("unexpected older entry: %+v", entries[1])
	}

	filtered, err := store.Recent(ctx, journal.Filter{Category: "SONARR"})
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Outcome != journal.OutcomeMoved {
		t.Fatalf("unexpected filtered entries: %+v", filtered)
	}

	failed, err := store.Recent(ctx, journal.Filter{Outcome: journal.OutcomeFailed, Limit: 1})
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorKind != "remote_call_failure" {
		t.Fatalf("unexpected failed entries: %+v", failed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[journal.OutcomeMoved] != 1 || stats[journal.OutcomeFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -40)
	for _, created := range []time.Time{old, time.Now()} {
		if _, err := store.Record(ctx, journal.Entry{Path: "/x.nzb", Category: "sonarr", Outcome: journal.OutcomeMoved, CreatedAt: created}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	removed, err := store.Prune(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned row, got %d", removed)
	}
	remaining, _ := store.Recent(ctx, journal.Filter{})
	if len(remaining) != 1 {
		t.Fatalf("expected one remaining row, got %d", len(remaining))
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	store, err := journal.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if _, err := store.Record(context.Background(), journal.Entry{Path: "/x.nzb", Category: "sonarr", Outcome: journal.OutcomeSubmitted}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	_ = store.Close()

	reopened, err := journal.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.Recent(context.Background(), journal.Filter{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected persisted entry, got %v, %v", entries, err)
	}
	if errors.Is(err, journal.ErrSchemaMismatch) {
		t.Fatal("unexpected schema mismatch")
	}
}
