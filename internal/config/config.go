package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"blackhole/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout shared by the watcher, router and
// mounted filesystem.
type Paths struct {
	ImportRoot  string `toml:"import_root"`
	ContentRoot string `toml:"content_root"`
	MountRoot   string `toml:"mount_root"`
	LogDir      string `toml:"log_dir"`
	StateDir    string `toml:"state_dir"`
	EnvFile     string `toml:"env_file"`
}

// Rclone contains configuration for the rclone remote-control API used to
// invalidate the VFS directory cache.
type Rclone struct {
	URL               string `toml:"url"`
	ImportPrefix      string `toml:"import_prefix"`
	ConfirmAttempts   int    `toml:"confirm_attempts"`
	ConfirmIntervalMS int    `toml:"confirm_interval_ms"`
}

// SABnzbd contains configuration for the download queue service.
type SABnzbd struct {
	URL               string  `toml:"url"`
	APIKey            string  `toml:"api_key"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Triage contains the classification policy and the retry contract applied
// to descriptors observed mid-write.
type Triage struct {
	// Policy is either "extension" or "strict". Strict additionally routes
	// every descriptor naming more than one file to the download queue.
	Policy             string `toml:"policy"`
	MaxRetries         int    `toml:"max_retries"`
	RetryBackoffMS     int    `toml:"retry_backoff_ms"`
	ParallelCategories bool   `toml:"parallel_categories"`
	EventBuffer        int    `toml:"event_buffer"`
}

// HTTP contains settings shared by every remote client.
type HTTP struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Errors         bool   `toml:"errors"`
	Sweep          bool   `toml:"sweep"`
}

// Library points a category at a Sonarr/Radarr style library service. A
// category with a library URL routes direct descriptors into the library's
// folder for the release instead of the completed subtree.
type Library struct {
	Kind   string `toml:"kind"`
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// Enabled reports whether the library block is configured.
func (l Library) Enabled() bool {
	return strings.TrimSpace(l.URL) != ""
}

// Category describes one destination bucket under the import root.
type Category struct {
	Name       string  `toml:"name"`
	QueueLabel string  `toml:"queue_label"`
	Library    Library `toml:"library"`
}

// Config encapsulates all configuration values for blackhole.
//
// Configuration sections by subsystem:
//   - Paths: import tree, content root, mount root, logs and state
//   - Rclone: VFS cache refresh endpoint
//   - SABnzbd: download queue submission endpoint
//   - Triage: classification policy, retry contract, dispatch mode
//   - HTTP: timeouts shared by all remote clients
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
//   - Categories: one block per managed downstream service
type Config struct {
	Paths         Paths         `toml:"paths"`
	Rclone        Rclone        `toml:"rclone"`
	SABnzbd       SABnzbd       `toml:"sabnzbd"`
	Triage        Triage        `toml:"triage"`
	HTTP          HTTP          `toml:"http"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Categories    []Category    `toml:"categories"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/blackhole/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Every failure is tagged with
// services.ErrConfiguration.
func Load(path string) (*Config, string, bool, error) {
	cfg, resolved, exists, err := load(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	return cfg, resolved, exists, nil
}

func load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("blackhole.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon itself owns. The import
// tree is bootstrapped by the watcher so it can report how many category
// directories were created.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CategoryNames returns the configured category names in declaration order.
func (c *Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, category := range c.Categories {
		names = append(names, category.Name)
	}
	return names
}

// LookupCategory finds a configured category by name, ignoring case.
func (c *Config) LookupCategory(name string) (Category, bool) {
	for _, category := range c.Categories {
		if strings.EqualFold(category.Name, name) {
			return category, true
		}
	}
	return Category{}, false
}

// HTTPTimeout returns the timeout applied to every remote call.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the pause between attempts on a truncated descriptor.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Triage.RetryBackoffMS) * time.Millisecond
}

// ConfirmInterval returns the pause between mount visibility checks.
func (c *Config) ConfirmInterval() time.Duration {
	return time.Duration(c.Rclone.ConfirmIntervalMS) * time.Millisecond
}

// JournalPath returns the location of the routing journal database.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockPath returns the location of the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "blackhole.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
