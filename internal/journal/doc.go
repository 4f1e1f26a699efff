// Package journal persists one row per routing outcome in SQLite.
//
// The journal is write-mostly: the router records every move, submission and
// failure, and the CLI reads recent rows back for `blackhole history`. It is
// not consulted when deciding how to route a descriptor.
package journal
