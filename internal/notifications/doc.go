// Package notifications delivers blackhole events via ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Each Event is gated by its toggle in the
// [notifications] config section.
package notifications
