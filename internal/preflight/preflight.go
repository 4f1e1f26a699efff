package preflight

import (
	"context"

	"blackhole/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Import root", cfg.Paths.ImportRoot),
		CheckDirectoryAccess("Content root", cfg.Paths.ContentRoot),
		CheckMountRoot(cfg.Paths.MountRoot),
		CheckRclone(ctx, cfg.Rclone.URL, cfg.HTTPTimeout()),
		CheckSABnzbd(ctx, cfg.SABnzbd.URL, cfg.SABnzbd.APIKey, cfg.HTTPTimeout()),
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNotifications(ctx, cfg))
	}
	for _, category := range cfg.Categories {
		if !category.Library.Enabled() {
			continue
		}
		results = append(results, CheckLibrary(ctx, category, cfg.HTTPTimeout()))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
