package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"blackhole/internal/config"
	"blackhole/internal/fileutil"
	"blackhole/internal/logging"
)

// DescriptorExt is the extension of files the dispatcher reacts to.
const DescriptorExt = ".nzb"

const (
	SourceSweep = "sweep"
	SourceEvent = "event"
)

// State is the dispatcher lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateWatching
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Job is one descriptor handed to the handler.
type Job struct {
	Path          string
	Category      string
	CorrelationID string
	Source        string
}

// Handler processes a job to completion. It must not return errors: every
// failure is resolved (logged, journaled) inside the handler.
type Handler interface {
	Handle(ctx context.Context, job Job)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job)

func (f HandlerFunc) Handle(ctx context.Context, job Job) { f(ctx, job) }

type stamp struct {
	size    int64
	modTime time.Time
}

// Dispatcher owns the watch on the import tree.
type Dispatcher struct {
	importRoot string
	categories []string
	buffer     int
	parallel   bool
	handler    Handler
	logger     *slog.Logger

	jobs     chan Job
	stopped  atomic.Bool
	watching atomic.Bool
	inflight atomic.Int32

	seenMu sync.Mutex
	seen   map[string]stamp
}

// New builds a dispatcher for the import tree described by cfg.
func New(cfg *config.Config, handler Handler, logger *slog.Logger) *Dispatcher {
	buffer := cfg.Triage.EventBuffer
	if buffer <= 0 {
		buffer = 1
	}
	return &Dispatcher{
		importRoot: cfg.Paths.ImportRoot,
		categories: cfg.CategoryNames(),
		buffer:     buffer,
		parallel:   cfg.Triage.ParallelCategories,
		handler:    handler,
		logger:     logging.NewComponentLogger(logger, "watcher"),
		seen:       make(map[string]stamp),
	}
}

// State reports the current lifecycle state.
func (d *Dispatcher) State() State {
	switch {
	case d.stopped.Load():
		return StateStopped
	case d.inflight.Load() > 0:
		return StateDispatching
	case d.watching.Load():
		return StateWatching
	default:
		return StateIdle
	}
}

// ShouldDispatch reports whether path is a descriptor the dispatcher must
// process: a .nzb file under root whose relative path has no completed
// segment.
func ShouldDispatch(root, path string) bool {
	if !strings.EqualFold(filepath.Ext(path), DescriptorExt) {
		return false
	}
	rel, err := fileutil.RelativeUnder(root, path)
	if err != nil || rel == "" {
		return false
	}
	return !inCompleted(rel)
}

func inCompleted(rel string) bool {
	for _, segment := range strings.Split(rel, "/") {
		if strings.EqualFold(segment, config.CompletedDirName) {
			return true
		}
	}
	return false
}

// CategoryOf returns the category label for a descriptor: the name of its
// immediate parent directory.
func CategoryOf(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// Bootstrap creates the import root and each configured category with its
// completed subtree. It returns the number of directories it created.
func (d *Dispatcher) Bootstrap() (int, error) {
	dirs := []string{d.importRoot}
	for _, category := range d.categories {
		dirs = append(dirs,
			filepath.Join(d.importRoot, category),
			filepath.Join(d.importRoot, category, config.CompletedDirName),
		)
	}
	created := 0
	for _, dir := range dirs {
		made, err := fileutil.EnsureDir(dir)
		if err != nil {
			return created, fmt.Errorf("bootstrap %s: %w", dir, err)
		}
		if made {
			created++
		}
	}
	return created, nil
}

// Sweep walks root depth-first, skipping completed subtrees, and enqueues every
// descriptor found. It returns the number of descriptors enqueued.
func (d *Dispatcher) Sweep(ctx context.Context, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logging.WarnWithContext(d.logger, "sweep skipped unreadable entry", "sweep_entry_skipped",
				logging.String("path", path),
				logging.Error(walkErr),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if path != root && strings.EqualFold(entry.Name(), config.CompletedDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ShouldDispatch(d.importRoot, path) || !isDescriptorFile(path) {
			return nil
		}
		if d.enqueue(ctx, path, SourceSweep) {
			count++
		}
		return nil
	})
	return count, err
}

// RunOnce bootstraps, sweeps the existing tree, and processes everything found
// without installing a watch.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	if _, err := d.Bootstrap(); err != nil {
		return 0, err
	}
	d.jobs = make(chan Job, d.buffer)
	done := d.startConsumers(ctx)
	count, err := d.Sweep(ctx, d.importRoot)
	close(d.jobs)
	<-done
	d.stopped.Store(true)
	return count, err
}

// Run bootstraps the tree, watches it, and dispatches descriptors until ctx is
// cancelled. A job already handed to the handler runs to completion before Run
// returns; queued jobs are abandoned and picked up by the next sweep.
func (d *Dispatcher) Run(ctx context.Context) error {
	created, err := d.Bootstrap()
	if err != nil {
		return err
	}
	d.logger.Info("import tree ready",
		logging.String("import_root", d.importRoot),
		logging.Int("created_dirs", created),
		logging.Int("categories", len(d.categories)),
		logging.String(logging.FieldEventType, "bootstrap_complete"),
	)

	w, err := fsnotify.NewBufferedWatcher(uint(d.buffer))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := d.watchTree(w, d.importRoot); err != nil {
		return fmt.Errorf("watch %s: %w", d.importRoot, err)
	}

	d.jobs = make(chan Job, d.buffer)
	done := d.startConsumers(ctx)
	defer func() {
		d.stopped.Store(true)
		close(d.jobs)
		<-done
		d.logger.Info("dispatcher stopped", logging.String(logging.FieldEventType, "dispatcher_stopped"))
	}()

	swept, err := d.Sweep(ctx, d.importRoot)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(d.logger, "startup sweep incomplete", "sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some existing descriptors wait for the next restart"),
		)
	}
	d.logger.Info("startup sweep complete", logging.Int("descriptors", swept), logging.String(logging.FieldEventType, "sweep_complete"))
	d.watching.Store(true)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.WarnWithContext(d.logger, "watch queue overflowed; re-sweeping", "watch_overflow",
					logging.Error(err),
					logging.String(logging.FieldImpact, "events were lost and are recovered by a sweep"),
				)
				if _, err := d.Sweep(ctx, d.importRoot); err != nil && !errors.Is(err, context.Canceled) {
					logging.WarnWithContext(d.logger, "re-sweep incomplete", "sweep_failed", logging.Error(err))
				}
				continue
			}
			logging.WarnWithContext(d.logger, "watcher error", "watch_error", logging.Error(err))
		}
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, w *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		rel, err := fileutil.RelativeUnder(d.importRoot, event.Name)
		if err != nil || inCompleted(rel) {
			return
		}
		if err := d.watchTree(w, event.Name); err != nil {
			logging.WarnWithContext(d.logger, "failed to watch new directory", "watch_add_failed",
				logging.String("dir", event.Name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "descriptors in this directory are picked up at the next restart"),
			)
			return
		}
		// Files may have landed before the watch existed.
		if _, err := d.Sweep(ctx, event.Name); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(d.logger, "new directory sweep incomplete", "sweep_failed", logging.Error(err))
		}
		return
	}
	if !info.Mode().IsRegular() || !ShouldDispatch(d.importRoot, event.Name) {
		return
	}
	d.enqueue(ctx, event.Name, SourceEvent)
}

// isDescriptorFile reports whether path resolves to a regular file. Symlinks
// are followed, matching what a live Create event sees.
func isDescriptorFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (d *Dispatcher) watchTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() {
			return nil
		}
		if path != d.importRoot && strings.EqualFold(entry.Name(), config.CompletedDirName) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// enqueue hands path to the consumers unless the same observation (path,
// size, mtime) was already enqueued.
func (d *Dispatcher) enqueue(ctx context.Context, path, source string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	current := stamp{size: info.Size(), modTime: info.ModTime()}
	d.seenMu.Lock()
	if prev, ok := d.seen[path]; ok && prev == current {
		d.seenMu.Unlock()
		d.logger.Debug("duplicate observation ignored", logging.String("path", path), logging.String("source", source))
		return false
	}
	d.seen[path] = current
	d.seenMu.Unlock()

	job := Job{Path: path, Category: CategoryOf(path), CorrelationID: uuid.NewString(), Source: source}
	select {
	case d.jobs <- job:
		return true
	case <-ctx.Done():
		d.forget(path)
		return false
	}
}

func (d *Dispatcher) forget(path string) {
	d.seenMu.Lock()
	delete(d.seen, path)
	d.seenMu.Unlock()
}

// startConsumers drains d.jobs and returns a channel closed once every
// consumer has exited.
func (d *Dispatcher) startConsumers(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if !d.parallel {
		go func() {
			defer close(done)
			d.consume(ctx, d.jobs)
		}()
		return done
	}

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		workers := make(map[string]chan Job)
		for job := range d.jobs {
			queue, ok := workers[job.Category]
			if !ok {
				queue = make(chan Job, d.buffer)
				workers[job.Category] = queue
				wg.Add(1)
				go func() {
					defer wg.Done()
					d.consume(ctx, queue)
				}()
			}
			queue <- job
		}
		for _, queue := range workers {
			close(queue)
		}
		wg.Wait()
	}()
	return done
}

func (d *Dispatcher) consume(ctx context.Context, jobs <-chan Job) {
	for job := range jobs {
		if ctx.Err() != nil {
			d.forget(job.Path)
			continue
		}
		d.dispatch(context.WithoutCancel(ctx), job)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, job Job) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	defer func() {
		if rec := recover(); rec != nil {
			logging.ErrorWithContext(d.logger, "dispatch panicked", "dispatch_panic",
				logging.String("path", job.Path),
				logging.String("panic", fmt.Sprint(rec)),
				logging.String(logging.FieldCorrelationID, job.CorrelationID),
				logging.String(logging.FieldErrorHint, "descriptor left in place; report this with the log line"),
			)
		}
		if !fileutil.Exists(job.Path) {
			d.forget(job.Path)
		}
	}()
	d.handler.Handle(ctx, job)
}
