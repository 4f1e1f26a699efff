// Package watcher turns filesystem activity under the import root into
// triage jobs.
//
// The Dispatcher bootstraps the category directories, registers an fsnotify
// watch on every directory outside the completed subtrees, sweeps descriptors
// already on disk, and then feeds Create events through a bounded channel to
// a single consumer (or one FIFO worker per category). The Pipeline is the
// consumer's handler: retry supervisor, then router.
package watcher
