package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"blackhole/internal/config"
	"blackhole/internal/descriptor"
	"blackhole/internal/fileutil"
	"blackhole/internal/journal"
	"blackhole/internal/logging"
	"blackhole/internal/services"
	"blackhole/internal/services/arr"
	"blackhole/internal/services/rclone"
	"blackhole/internal/services/sabnzbd"
	"blackhole/internal/textutil"
)

// ErrNoLibraryMatch is returned when a library lookup yields nothing usable.
var ErrNoLibraryMatch = errors.New("no library match")

// lowMatchScore flags lookups whose first answer shares few words with the
// release title.
const lowMatchScore = 0.5

// Refresher invalidates the mount's directory cache.
type Refresher interface {
	Refresh(ctx context.Context, dir string) error
}

// Queue accepts descriptors for download.
type Queue interface {
	AddLocalFile(ctx context.Context, path, category string) (sabnzbd.Submission, error)
}

// Library resolves release folders and rescans them.
type Library interface {
	Kind() arr.Kind
	Lookup(ctx context.Context, term string) ([]arr.Candidate, error)
	Rescan(ctx context.Context, id int) error
}

// Recorder stores routing outcomes.
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) (journal.Entry, error)
}

// Request asks the router to act on a classified descriptor.
type Request struct {
	Path     string
	Category string
	Verdict  descriptor.Verdict
}

// Result describes what the router did.
type Result struct {
	Route       descriptor.Route
	Outcome     journal.Outcome
	Destination string
	Refreshed   bool
	Confirmed   bool
	Rescanned   bool
	QueueIDs    []string
}

// Router applies verdicts. It is the only component that moves or deletes
// descriptors and the only caller of mutating remote endpoints.
type Router struct {
	importRoot      string
	contentRoot     string
	mountRoot       string
	importPrefix    string
	confirmAttempts int
	confirmInterval time.Duration

	targets  map[string]Targets
	rclone   Refresher
	queue    Queue
	recorder Recorder
	move     func(src, dst string) error
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger

	libraries map[string]Library
}

// Option customizes the router.
type Option func(*Router)

// WithRecorder journals every routing outcome.
func WithRecorder(recorder Recorder) Option {
	return func(r *Router) {
		r.recorder = recorder
	}
}

// WithMover replaces fileutil.Move.
func WithMover(move func(src, dst string) error) Option {
	return func(r *Router) {
		if move != nil {
			r.move = move
		}
	}
}

// WithSleep replaces the wait between mount visibility checks.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Router) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithLibrary overrides the library client of category.
func WithLibrary(category string, library Library) Option {
	return func(r *Router) {
		r.libraries[strings.ToLower(category)] = library
	}
}

// New resolves the per-category targets from cfg. Library clients are built
// from the category configuration unless supplied with WithLibrary.
func New(cfg *config.Config, refresher Refresher, queue Queue, logger *slog.Logger, opts ...Option) (*Router, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "router", "new", "config is nil", nil)
	}
	r := &Router{
		importRoot:      cfg.Paths.ImportRoot,
		contentRoot:     cfg.Paths.ContentRoot,
		mountRoot:       cfg.Paths.MountRoot,
		importPrefix:    cfg.Rclone.ImportPrefix,
		confirmAttempts: cfg.Rclone.ConfirmAttempts,
		confirmInterval: cfg.ConfirmInterval(),
		targets:         make(map[string]Targets, len(cfg.Categories)),
		rclone:          refresher,
		queue:           queue,
		move:            fileutil.Move,
		sleep:           sleepContext,
		logger:          logging.NewComponentLogger(logger, "router"),
		libraries:       make(map[string]Library),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.importPrefix == "" {
		r.importPrefix = "/"
	}

	for _, category := range cfg.Categories {
		key := strings.ToLower(category.Name)
		targets := completedTargets(category.Name, category.QueueLabel)
		if category.Library.Enabled() {
			library, ok := r.libraries[key]
			if !ok {
				kind, err := arr.ParseKind(category.Library.Kind)
				if err != nil {
					return nil, services.Wrap(services.ErrConfiguration, "router", "new", category.Name, err)
				}
				library = arr.NewClient(kind, category.Library.URL, category.Library.APIKey, cfg.HTTPTimeout())
			}
			targets.Direct = LibraryTarget{
				Root:   filepath.Join(r.contentRoot, category.Name),
				Client: library,
			}
		}
		r.targets[key] = targets
	}
	return r, nil
}

// NewFromConfig builds a router with the rclone and SABnzbd clients
// described by cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Router, error) {
	refresher := rclone.NewClient(cfg.Rclone.URL, cfg.HTTPTimeout())
	queue := sabnzbd.NewClient(cfg.SABnzbd.URL, cfg.SABnzbd.APIKey, cfg.HTTPTimeout(),
		sabnzbd.WithRateLimit(cfg.SABnzbd.RequestsPerSecond))
	return New(cfg, refresher, queue, logger, opts...)
}

// TargetsFor returns the plan for category. Categories without configuration
// route to the completed directory beside the descriptor and queue under
// their own name.
func (r *Router) TargetsFor(category string) (Targets, bool) {
	if t, ok := r.targets[strings.ToLower(category)]; ok {
		return t, true
	}
	return completedTargets(category, category), false
}

// Route applies req.Verdict to the descriptor at req.Path.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	targets, known := r.TargetsFor(req.Category)
	if !known {
		logging.WarnWithContext(logger, "category not configured; using default plan", "unknown_category",
			logging.String("plan", targets.Describe()),
			logging.String(logging.FieldErrorHint, "add a [[categories]] block for this directory"),
			logging.String(logging.FieldImpact, "descriptor routed with the category name as queue label"),
		)
	}

	var (
		result Result
		err    error
	)
	switch req.Verdict.Route {
	case descriptor.RouteDirect:
		result, err = targets.Direct.place(ctx, r, req)
	case descriptor.RouteQueue:
		result, err = r.submit(ctx, targets.Queue, req)
	default:
		err = services.Wrap(services.ErrConfiguration, "router", "route", fmt.Sprintf("unknown route %q", req.Verdict.Route), nil)
		result = Result{Outcome: journal.OutcomeFailed}
	}
	result.Route = req.Verdict.Route

	r.record(ctx, req, result, err)
	return result, err
}

// RecordFailure journals a descriptor that never reached routing.
func (r *Router) RecordFailure(ctx context.Context, path, category string, attempts int, cause error) {
	r.record(ctx, Request{Path: path, Category: category, Verdict: descriptor.Verdict{Attempts: attempts}},
		Result{Outcome: journal.OutcomeFailed}, cause)
}

func (r *Router) record(ctx context.Context, req Request, result Result, err error) {
	if r.recorder == nil {
		return
	}
	entry := journal.Entry{
		Path:        req.Path,
		Category:    req.Category,
		Route:       string(req.Verdict.Route),
		Outcome:     result.Outcome,
		Destination: result.Destination,
		Attempts:    req.Verdict.Attempts,
	}
	if id, ok := services.CorrelationIDFromContext(ctx); ok {
		entry.CorrelationID = id
	}
	if err != nil {
		entry.ErrorKind = services.Kind(err)
		entry.Error = err.Error()
	}
	if _, recErr := r.recorder.Record(ctx, entry); recErr != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "journal write failed", "journal_write_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "routing outcome missing from history"),
		)
	}
}

func (t CompletedTarget) place(ctx context.Context, r *Router, req Request) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	dir := t.Dir(req.Path)
	dst := filepath.Join(dir, filepath.Base(req.Path))
	if err := r.move(req.Path, dst); err != nil {
		return Result{Outcome: journal.OutcomeFailed}, services.Wrap(services.ErrIOFailure, "router", "move", dst, err)
	}
	result := Result{Outcome: journal.OutcomeMoved, Destination: dst}

	rel, err := fileutil.RelativeUnder(r.importRoot, dir)
	if err != nil {
		logging.WarnWithContext(logger, "completed directory outside import root; refresh skipped", "vfs_refresh_skipped",
			logging.Error(err),
			logging.String(logging.FieldImpact, "mount may not show the descriptor until its cache expires"),
		)
		return result, nil
	}
	result.Refreshed = r.refresh(ctx, path.Join(r.importPrefix, rel))
	logger.Info("descriptor moved",
		logging.String("destination", dst),
		logging.Bool("refreshed", result.Refreshed),
		logging.String(logging.FieldEventType, "descriptor_moved"),
	)
	return result, nil
}

func (t LibraryTarget) place(ctx context.Context, r *Router, req Request) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	failed := Result{Outcome: journal.OutcomeFailed}

	term := textutil.ReleaseTitle(req.Path)
	if term == "" {
		return failed, services.Wrap(services.ErrRemoteCall, "router", "lookup", "no title in descriptor name", ErrNoLibraryMatch)
	}
	candidates, err := t.Client.Lookup(ctx, term)
	if err != nil {
		return failed, err
	}
	if len(candidates) == 0 {
		return failed, services.Wrap(services.ErrRemoteCall, "router", "lookup", term, ErrNoLibraryMatch)
	}
	match := candidates[0]
	folder := textutil.SanitizeFileName(match.LibraryFolder())
	if folder == "" || folder == "." || folder == ".." {
		return failed, services.Wrap(services.ErrRemoteCall, "router", "lookup", "candidate has no folder: "+match.Title, ErrNoLibraryMatch)
	}

	score := textutil.MatchScore(textutil.ParseRelease(req.Path).Title, match.Title)
	logger.Info("library match selected", logging.Args(append(
		logging.DecisionAttrs("library_folder", folder, "first lookup candidate"),
		logging.String("term", term),
		logging.String("match_title", match.Title),
		logging.Int("match_id", match.ID),
		logging.String("match_score", fmt.Sprintf("%.2f", score)),
	)...)...)
	if score < lowMatchScore {
		logging.WarnWithContext(logger, "library match differs from release title", "library_match_weak",
			logging.String("term", term),
			logging.String("match_title", match.Title),
			logging.String(logging.FieldErrorHint, "check the descriptor name or the library entry"),
			logging.String(logging.FieldImpact, "descriptor may be filed under the wrong title"),
		)
	}

	destDir := filepath.Join(t.Root, folder)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return failed, services.Wrap(services.ErrIOFailure, "router", "mkdir", destDir, err)
	}
	dst := filepath.Join(destDir, filepath.Base(req.Path))
	if err := r.move(req.Path, dst); err != nil {
		return failed, services.Wrap(services.ErrIOFailure, "router", "move", dst, err)
	}
	result := Result{Outcome: journal.OutcomeMoved, Destination: dst}

	relDir, err := fileutil.RelativeUnder(r.contentRoot, destDir)
	if err != nil {
		logging.WarnWithContext(logger, "library folder outside content root; refresh skipped", "vfs_refresh_skipped",
			logging.Error(err),
		)
		return result, nil
	}
	result.Refreshed = r.refresh(ctx, "/"+relDir)
	result.Confirmed = r.confirmVisible(ctx, filepath.Join(r.mountRoot, filepath.FromSlash(relDir), filepath.Base(dst)))

	if match.ID <= 0 {
		logging.WarnWithContext(logger, "lookup match not in library; rescan skipped", "library_rescan_skipped",
			logging.String("match_title", match.Title),
			logging.String(logging.FieldErrorHint, "add the title to the library service"),
			logging.String(logging.FieldImpact, "library will pick the release up on its next scheduled scan"),
		)
	} else if err := t.Client.Rescan(ctx, match.ID); err != nil {
		logging.WarnWithContext(logger, "library rescan failed", "library_rescan_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "library will pick the release up on its next scheduled scan"),
		)
	} else {
		result.Rescanned = true
	}

	logger.Info("descriptor placed in library",
		logging.String("destination", dst),
		logging.Bool("refreshed", result.Refreshed),
		logging.Bool("confirmed", result.Confirmed),
		logging.Bool("rescanned", result.Rescanned),
		logging.String(logging.FieldEventType, "descriptor_library_placed"),
	)
	return result, nil
}

func (r *Router) submit(ctx context.Context, target QueueTarget, req Request) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	if r.queue == nil {
		return Result{Outcome: journal.OutcomeFailed}, services.Wrap(services.ErrConfiguration, "router", "submit", "no download queue configured", nil)
	}
	sub, err := r.queue.AddLocalFile(ctx, req.Path, target.Label)
	if err != nil {
		return Result{Outcome: journal.OutcomeFailed}, err
	}
	result := Result{Outcome: journal.OutcomeSubmitted, QueueIDs: sub.IDs}
	if err := os.Remove(req.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, services.Wrap(services.ErrIOFailure, "router", "remove", "descriptor accepted by queue but not removed", err)
	}
	logger.Info("descriptor submitted to queue",
		logging.String("queue_label", target.Label),
		logging.String("queue_ids", strings.Join(sub.IDs, ",")),
		logging.String(logging.FieldEventType, "descriptor_submitted"),
	)
	return result, nil
}

// refresh reports whether the cache refresh succeeded. Failures are logged
// and otherwise ignored: the descriptor is already in place and the mount
// catches up once its cache expires.
func (r *Router) refresh(ctx context.Context, dir string) bool {
	if r.rclone == nil {
		return false
	}
	if err := r.rclone.Refresh(ctx, dir); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "vfs refresh failed", "vfs_refresh_failed",
			logging.String("dir", dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that rclone rc is enabled and rclone.url is correct"),
			logging.String(logging.FieldImpact, "mount may not show the descriptor until its cache expires"),
		)
		return false
	}
	return true
}

func (r *Router) confirmVisible(ctx context.Context, visible string) bool {
	attempts := r.confirmAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if fileutil.Exists(visible) {
			return true
		}
		if attempt == attempts {
			break
		}
		if err := r.sleep(ctx, r.confirmInterval); err != nil {
			break
		}
	}
	logging.WarnWithContext(logging.WithContext(ctx, r.logger), "descriptor not visible on mount", "mount_confirm_failed",
		logging.String("path", visible),
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorHint, "check the rclone mount at paths.mount_root"),
		logging.String(logging.FieldImpact, "library rescan may not find the release yet"),
	)
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
