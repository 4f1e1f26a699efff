package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// logOutput is one destination the daemon writes to, such as stdout or
// the blackhole.log file under paths.log_dir.
type logOutput struct {
	name    string
	handler slog.Handler
}

// outputSet writes each record to every output. An output that fails keeps
// receiving records, but its failure is reported once on the warn writer so
// a full log volume does not silence the console or flood stderr.
type outputSet struct {
	outputs []logOutput
	state   *outputState
}

type outputState struct {
	mu       sync.Mutex
	warn     io.Writer
	reported map[string]bool
}

func newOutputSet(outputs []logOutput, warn io.Writer) slog.Handler {
	live := make([]logOutput, 0, len(outputs))
	for _, out := range outputs {
		if out.handler != nil {
			live = append(live, out)
		}
	}
	if len(live) == 0 {
		return NoopHandler{}
	}
	return &outputSet{
		outputs: live,
		state:   &outputState{warn: warn, reported: make(map[string]bool)},
	}
}

func (s *outputSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, out := range s.outputs {
		if out.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle returns an error only when no enabled output accepted the record.
func (s *outputSet) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	attempted := 0
	for _, out := range s.outputs {
		if !out.handler.Enabled(ctx, record.Level) {
			continue
		}
		attempted++
		if err := out.handler.Handle(ctx, record.Clone()); err != nil {
			s.state.report(out.name, err)
			errs = append(errs, fmt.Errorf("log output %s: %w", out.name, err))
		}
	}
	if attempted > 0 && len(errs) == attempted {
		return errors.Join(errs...)
	}
	return nil
}

func (s *outputSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *outputSet) WithGroup(name string) slog.Handler {
	return s.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// derive keeps the shared failure state so a logger built with With still
// reports a broken output only once.
func (s *outputSet) derive(fn func(slog.Handler) slog.Handler) slog.Handler {
	outputs := make([]logOutput, len(s.outputs))
	for i, out := range s.outputs {
		outputs[i] = logOutput{name: out.name, handler: fn(out.handler)}
	}
	return &outputSet{outputs: outputs, state: s.state}
}

func (st *outputState) report(name string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.reported[name] || st.warn == nil {
		return
	}
	st.reported[name] = true
	fmt.Fprintf(st.warn, "blackhole: log output %s failed: %v\n", name, err)
}
