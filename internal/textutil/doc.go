// Package textutil parses release names and compares titles.
//
// ParseRelease recovers the title, year and episode marker from scene-style
// descriptor names so the title can be looked up in a library manager.
// Fingerprints and MatchScore compare the lookup answer against the release
// title. SanitizeFileName makes library folder names safe for the filesystem.
package textutil
