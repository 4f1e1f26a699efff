package descriptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"blackhole/internal/logging"
	"blackhole/internal/services"
)

const (
	// DefaultMaxRetries is the number of re-reads after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBackoff is the pause between attempts on a truncated descriptor.
	DefaultBackoff = 2 * time.Second
)

// TerminalFailure reports a descriptor that could not be classified. The file
// is left where it is.
type TerminalFailure struct {
	Path     string
	Attempts int
	Err      error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("descriptor %s failed after %d attempt(s): %v", filepath.Base(e.Path), e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error { return e.Err }

// Supervisor parses and classifies a descriptor, re-reading it while it still
// looks truncated.
type Supervisor struct {
	Policy     Policy
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(context.Context, time.Duration) error
}

// NewSupervisor returns a Supervisor with the default retry contract.
func NewSupervisor(policy Policy, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		Policy:     policy,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
		Logger:     logging.NewComponentLogger(logger, "triage"),
	}
}

// Attempt produces a verdict for the descriptor at path. Truncated documents
// are retried up to MaxRetries times; every other failure, and exhausted
// retries, return a *TerminalFailure.
func (s *Supervisor) Attempt(ctx context.Context, path string) (Verdict, error) {
	logger := logging.WithContext(ctx, s.Logger)
	maxRetries := s.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		d, err := ParseFile(path)
		if err == nil {
			verdict := Classify(d, s.Policy)
			verdict.Attempts = attempt
			logger.Info("descriptor classified",
				logging.Args(append(logging.DecisionAttrs("triage_route", string(verdict.Route), verdict.Reason),
					logging.Int("file_count", verdict.FileCount),
					logging.Int("attempts", attempt),
				)...)...,
			)
			return verdict, nil
		}
		lastErr = err

		if !errors.Is(err, ErrMalformedDescriptor) || !IsTruncated(err) {
			return Verdict{}, &TerminalFailure{Path: path, Attempts: attempt, Err: err}
		}
		if attempt > maxRetries {
			break
		}
		logger.Debug("descriptor truncated; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", s.Backoff),
			logging.String(logging.FieldEventType, "descriptor_retry"),
		)
		if err := s.sleep(ctx, s.Backoff); err != nil {
			return Verdict{}, &TerminalFailure{Path: path, Attempts: attempt, Err: err}
		}
	}
	return Verdict{}, &TerminalFailure{
		Path:     path,
		Attempts: maxRetries + 1,
		Err:      services.Wrap(ErrMalformedDescriptor, "descriptor", "parse", "still truncated after retries", lastErr),
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
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
