// Package config loads, normalizes, and validates blackhole configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, imports secrets from an optional dotenv file,
// and honours environment fallbacks such as SABNZBD_API_KEY and
// <CATEGORY>_API_KEY. The Config value is read-only once Load returns and is
// passed explicitly to every component.
//
// The triage policy is a single deployment-wide choice: "extension" routes on
// file extension evidence only, "strict" additionally sends multi-file
// descriptors to the download queue. Library-backed categories require the
// strict policy.
package config
