// Package preflight provides readiness checks for the filesystem paths and
// remote services blackhole depends on.
//
// The CLI "blackhole config validate --check-remote" runs RunAll and renders
// the results. Each remote check is gated by configuration: library checks
// only run for categories with a library block.
package preflight
