// Package services defines shared utilities consumed by the triage pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp category labels, descriptor names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures with
//     the kind reported to operators (malformed descriptor, io failure,
//     remote call failure, configuration error).
//
// The remote clients live in subpackages: rclone (cache refresh), sabnzbd
// (download queue submission) and arr (library lookup and rescan).
package services
