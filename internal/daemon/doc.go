// Package daemon coordinates the long-running blackhole process.
//
// It wires configuration, the routing journal, the retry supervisor, the
// router and the watch dispatcher into a single lifecycle guarded by a flock
// on state_dir/blackhole.lock, so two daemons never route the same import
// tree. Retention for rotated logs and journal rows is applied at startup.
package daemon
