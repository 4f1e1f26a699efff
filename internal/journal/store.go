package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"blackhole/internal/config"
)

// Outcome summarizes what happened to a descriptor.
type Outcome string

const (
	// OutcomeMoved means the descriptor was moved to a direct target.
	OutcomeMoved Outcome = "moved"
	// OutcomeSubmitted means the download queue accepted the descriptor.
	OutcomeSubmitted Outcome = "submitted"
	// OutcomeFailed means the descriptor was left where it was.
	OutcomeFailed Outcome = "failed"
)

// Entry is one journal row.
type Entry struct {
	ID            int64
	CorrelationID string
	Path          string
	Category      string
	Route         string
	Outcome       Outcome
	Destination   string
	ErrorKind     string
	Error         string
	Attempts      int
	CreatedAt     time.Time
}

// Filter narrows Recent results. Zero values match everything.
type Filter struct {
	Category string
	Outcome  Outcome
	Limit    int
}

const defaultRecentLimit = 50

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the routing journal backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open opens the journal at the configured state location.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.JournalPath())
}

// OpenPath initializes or connects to the journal database at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends entry and returns it with ID and CreatedAt assigned.
func (s *Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`INSERT INTO routing_journal (
                correlation_id, path, category, route, outcome, destination,
                error_kind, error_message, attempts, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableString(entry.CorrelationID),
			entry.Path,
			entry.Category,
			nullableString(entry.Route),
			string(entry.Outcome),
			nullableString(entry.Destination),
			nullableString(entry.ErrorKind),
			nullableString(entry.Error),
			entry.Attempts,
			entry.CreatedAt.UTC().Format(timeLayout),
		)
		return execErr
	})
	if err != nil {
		return Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// Recent returns the newest entries first.
func (s *Store) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Category != "" {
		clauses = append(clauses, "category = ? COLLATE NOCASE")
		args = append(args, filter.Category)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	query := `SELECT id, correlation_id, path, category, route, outcome, destination,
        error_kind, error_message, attempts, created_at FROM routing_journal`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// Stats counts entries per outcome.
func (s *Store) Stats(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM routing_journal GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan journal stats: %w", err)
		}
		stats[Outcome(outcome)] = count
	}
	return stats, rows.Err()
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			"DELETE FROM routing_journal WHERE created_at < ?",
			cutoff.UTC().Format(timeLayout),
		)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry                                                       Entry
		correlationID, route, destination, errorKind, errorMessage sql.NullString
		outcome, createdAt                                          string
	)
	if err := row.Scan(
		&entry.ID,
		&correlationID,
		&entry.Path,
		&entry.Category,
		&route,
		&outcome,
		&destination,
		&errorKind,
		&errorMessage,
		&entry.Attempts,
		&createdAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	entry.CorrelationID = correlationID.String
	entry.Route = route.String
	entry.Outcome = Outcome(outcome)
	entry.Destination = destination.String
	entry.ErrorKind = errorKind.String
	entry.Error = errorMessage.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = ts
	}
	return entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
