package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"blackhole/internal/config"
	"blackhole/internal/descriptor"
	"blackhole/internal/journal"
	"blackhole/internal/logging"
	"blackhole/internal/notifications"
	"blackhole/internal/router"
	"blackhole/internal/watcher"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another blackhole instance is already running")

// Daemon owns the process lifecycle: the single-instance lock, the journal and
// the dispatcher.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	journal    *journal.Store
	router     *router.Router
	dispatcher *watcher.Dispatcher
	notifier   notifications.Service

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	routerOpts []router.Option
}

// WithRouterOptions passes options through to the router, which is how tests
// replace the remote collaborators.
func WithRouterOptions(opts ...router.Option) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, opts...)
	}
}

// New opens the journal and wires supervisor, router and dispatcher from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	routerOpts := append([]router.Option{router.WithRecorder(store)}, o.routerOpts...)
	r, err := router.NewFromConfig(cfg, logger, routerOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	policy, err := descriptor.ParsePolicy(cfg.Triage.Policy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	supervisor := descriptor.NewSupervisor(policy, logger)
	supervisor.MaxRetries = cfg.Triage.MaxRetries
	supervisor.Backoff = cfg.RetryBackoff()

	notifier := notifications.NewService(cfg)
	pipeline := watcher.NewPipeline(supervisor, r, logger, watcher.WithNotifier(notifier))
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		journal:    store,
		router:     r,
		dispatcher: watcher.New(cfg, pipeline, logger),
		notifier:   notifier,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}, nil
}

// Journal exposes the routing journal.
func (d *Daemon) Journal() *journal.Store { return d.journal }

// Dispatcher exposes the watch dispatcher.
func (d *Daemon) Dispatcher() *watcher.Dispatcher { return d.dispatcher }

// Running reports whether Run or Sweep is in progress.
func (d *Daemon) Running() bool { return d.running.Load() }

// Run holds the instance lock and dispatches descriptors until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquire(); err != nil {
		return err
	}
	defer d.release()

	d.maintain(ctx)
	d.logger.Info("blackhole daemon started",
		logging.String("lock", d.lockPath),
		logging.String("journal", d.journal.Path()),
		logging.String("policy", d.cfg.Triage.Policy),
		logging.Bool("parallel_categories", d.cfg.Triage.ParallelCategories),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	for _, name := range d.cfg.CategoryNames() {
		targets, _ := d.router.TargetsFor(name)
		d.logger.Debug("category plan", logging.String(logging.FieldCategory, name), logging.String("plan", targets.Describe()))
	}

	err := d.dispatcher.Run(ctx)
	d.logger.Info("blackhole daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Sweep processes the descriptors already on disk once, without watching.
func (d *Daemon) Sweep(ctx context.Context) (int, error) {
	if err := d.acquire(); err != nil {
		return 0, err
	}
	defer d.release()
	count, err := d.dispatcher.RunOnce(ctx)
	if err != nil {
		return count, err
	}
	if notifyErr := d.notifier.Publish(ctx, notifications.EventSweepCompleted, notifications.Payload{"count": count}); notifyErr != nil {
		logging.WarnWithContext(d.logger, "sweep notification failed", "notification_failed", logging.Error(notifyErr))
	}
	return count, nil
}

// Close releases the journal.
func (d *Daemon) Close() error {
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

func (d *Daemon) acquire() error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	d.running.Store(true)
	return nil
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
		)
	}
	d.running.Store(false)
}

// maintain applies logging.retention_days to rotated logs and the journal.
func (d *Daemon) maintain(ctx context.Context) {
	days := d.cfg.Logging.RetentionDays
	if days <= 0 {
		return
	}
	removed := logging.CleanupOldLogs(d.logger, days, logging.RotatedLogTarget(d.cfg.Paths.LogDir))
	pruned, err := d.journal.Prune(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		logging.WarnWithContext(d.logger, "journal prune failed", "journal_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old routing history is kept until the next start"),
		)
	}
	if removed > 0 || pruned > 0 {
		d.logger.Info("retention applied",
			logging.Int("logs_removed", removed),
			logging.Int64("journal_pruned", pruned),
			logging.Int("retention_days", days),
		)
	}
}
