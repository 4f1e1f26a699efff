// Package logging assembles structured slog loggers and formatting helpers used
// across blackhole.
//
// It owns the console and JSON handlers, colours terminal output when stdout
// is a TTY, tees records into the log file, and exposes context helpers so
// dispatch code tags every line with the correlation id, category, and
// descriptor path. A no-op logger is provided for tests and wiring code.
package logging
