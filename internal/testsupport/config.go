package testsupport

import (
	"path/filepath"
	"testing"

	"blackhole/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Service URLs point nowhere; tests override them with httptest servers.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ImportRoot = filepath.Join(base, "nzbs", "Import")
	cfgVal.Paths.ContentRoot = filepath.Join(base, "nzbs")
	cfgVal.Paths.MountRoot = filepath.Join(base, "mnt")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.EnvFile = ""
	cfgVal.Rclone.URL = "http://127.0.0.1:0"
	cfgVal.Rclone.ConfirmAttempts = 2
	cfgVal.Rclone.ConfirmIntervalMS = 1
	cfgVal.SABnzbd.URL = "http://127.0.0.1:0"
	cfgVal.SABnzbd.APIKey = "test"
	cfgVal.SABnzbd.RequestsPerSecond = 0
	cfgVal.Triage.RetryBackoffMS = 1
	cfgVal.HTTP.TimeoutSeconds = 5
	cfgVal.Categories = []config.Category{
		{Name: "sonarr", QueueLabel: "sonarr"},
		{Name: "radarr", QueueLabel: "radarr"},
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPolicy sets triage.policy.
func WithPolicy(policy string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Triage.Policy = policy
	}
}

// WithRclone points the rclone client at url.
func WithRclone(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Rclone.URL = url
	}
}

// WithSABnzbd points the download queue client at url.
func WithSABnzbd(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.SABnzbd.URL = url
	}
}

// WithCategories replaces the configured categories.
func WithCategories(categories ...config.Category) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Categories = categories
	}
}

// WithLibrary attaches a library service to the named category and switches
// the policy to strict, which library categories require.
func WithLibrary(category, kind, url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Triage.Policy = config.PolicyStrict
		for i := range b.cfg.Categories {
			if b.cfg.Categories[i].Name == category {
				b.cfg.Categories[i].Library = config.Library{Kind: kind, URL: url, APIKey: "test"}
				return
			}
		}
		b.cfg.Categories = append(b.cfg.Categories, config.Category{
			Name:       category,
			QueueLabel: category,
			Library:    config.Library{Kind: kind, URL: url, APIKey: "test"},
		})
	}
}

// WithParallelCategories enables per-category dispatch workers.
func WithParallelCategories() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Triage.ParallelCategories = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ContentRoot)
}
