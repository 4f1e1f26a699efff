// Package logs reads the daemon log file for "blackhole logs".
//
// Tail returns the last lines of the file or everything written after an
// offset, optionally waiting for new output. Follow loops over Tail and copes
// with the file being rotated underneath it.
package logs
