package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"blackhole/internal/descriptor"
	"blackhole/internal/fileutil"
	"blackhole/internal/logging"
	"blackhole/internal/notifications"
	"blackhole/internal/router"
	"blackhole/internal/services"
)

// Classifier produces a verdict for a descriptor path.
type Classifier interface {
	Attempt(ctx context.Context, path string) (descriptor.Verdict, error)
}

// Router applies verdicts and journals failures that never reach it.
type Router interface {
	Route(ctx context.Context, req router.Request) (router.Result, error)
	RecordFailure(ctx context.Context, path, category string, attempts int, cause error)
}

// Pipeline is the standard Handler: classify with retries, then route.
type Pipeline struct {
	classifier Classifier
	router     Router
	notifier   notifications.Service
	logger     *slog.Logger
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithNotifier publishes triage and routing failures.
func WithNotifier(n notifications.Service) PipelineOption {
	return func(p *Pipeline) {
		if n != nil {
			p.notifier = n
		}
	}
}

// NewPipeline wires a classifier to a router.
func NewPipeline(classifier Classifier, r Router, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		classifier: classifier,
		router:     r,
		notifier:   notifications.NewService(nil),
		logger:     logging.NewComponentLogger(logger, "dispatch"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one descriptor through triage and routing.
func (p *Pipeline) Handle(ctx context.Context, job Job) {
	ctx = services.WithCorrelationID(ctx, job.CorrelationID)
	ctx = services.WithCategory(ctx, job.Category)
	ctx = services.WithDescriptor(ctx, filepath.Base(job.Path))
	logger := logging.WithContext(ctx, p.logger)

	if !fileutil.Exists(job.Path) {
		logger.Debug("descriptor vanished before dispatch", logging.String("source", job.Source))
		return
	}
	logger.Info("descriptor observed",
		logging.String("source", job.Source),
		logging.String(logging.FieldEventType, "descriptor_observed"),
	)

	verdict, err := p.classifier.Attempt(ctx, job.Path)
	if err != nil {
		attempts := 0
		var terminal *descriptor.TerminalFailure
		if errors.As(err, &terminal) {
			attempts = terminal.Attempts
		}
		logging.ErrorWithContext(logger, "descriptor triage failed", "triage_failed",
			logging.String("error_kind", services.Kind(err)),
			logging.Int("attempts", attempts),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "descriptor left in place; inspect or re-drop it"),
		)
		p.router.RecordFailure(ctx, job.Path, job.Category, attempts, err)
		p.notify(ctx, logger, notifications.EventDescriptorFailed, notifications.Payload{
			"descriptor": filepath.Base(job.Path),
			"category":   job.Category,
			"attempts":   attempts,
			"error":      err,
		})
		return
	}

	result, err := p.router.Route(ctx, router.Request{Path: job.Path, Category: job.Category, Verdict: verdict})
	if err != nil {
		p.notify(ctx, logger, notifications.EventRouteFailed, notifications.Payload{
			"descriptor": filepath.Base(job.Path),
			"route":      string(verdict.Route),
			"error":      err,
		})
		attrs := []logging.Attr{
			logging.String("route", string(verdict.Route)),
			logging.String("error_kind", services.Kind(err)),
			logging.Error(err),
		}
		if errors.Is(err, services.ErrRemoteCall) {
			logging.WarnWithContext(logger, "descriptor routing failed", "route_failed",
				append(attrs,
					logging.String(logging.FieldErrorHint, "descriptor left in place; check the remote service"),
					logging.String(logging.FieldImpact, "descriptor waits for a manual or re-triggered attempt"),
				)...,
			)
			return
		}
		logging.ErrorWithContext(logger, "descriptor routing failed", "route_failed", attrs...)
		return
	}
	logger.Info("descriptor routed",
		logging.String("route", string(result.Route)),
		logging.String("outcome", string(result.Outcome)),
		logging.String("destination", result.Destination),
		logging.String(logging.FieldEventType, "descriptor_routed"),
	)
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := p.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}
