package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.loadEnvFile(); err != nil {
		return err
	}
	c.normalizeRclone()
	c.normalizeSABnzbd()
	c.normalizeTriage()
	c.normalizeCategories()
	if c.HTTP.TimeoutSeconds == 0 {
		c.HTTP.TimeoutSeconds = defaultHTTPTimeoutSeconds
	}
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ImportRoot, err = expandPath(strings.TrimSpace(c.Paths.ImportRoot)); err != nil {
		return fmt.Errorf("paths.import_root: %w", err)
	}
	if c.Paths.ContentRoot, err = expandPath(strings.TrimSpace(c.Paths.ContentRoot)); err != nil {
		return fmt.Errorf("paths.content_root: %w", err)
	}
	if c.Paths.MountRoot, err = expandPath(strings.TrimSpace(c.Paths.MountRoot)); err != nil {
		return fmt.Errorf("paths.mount_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.EnvFile, err = expandPath(strings.TrimSpace(c.Paths.EnvFile)); err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	return nil
}

// loadEnvFile imports secrets from the optional dotenv file. Variables that
// are already set in the process environment win.
func (c *Config) loadEnvFile() error {
	if c.Paths.EnvFile == "" {
		return nil
	}
	if _, err := os.Stat(c.Paths.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(c.Paths.EnvFile); err != nil {
		return fmt.Errorf("paths.env_file: load %s: %w", c.Paths.EnvFile, err)
	}
	return nil
}

func (c *Config) normalizeRclone() {
	c.Rclone.URL = strings.TrimSpace(c.Rclone.URL)
	if c.Rclone.URL == "" {
		if value, ok := os.LookupEnv("RCLONE_URL"); ok {
			c.Rclone.URL = strings.TrimSpace(value)
		}
	}
	c.Rclone.URL = strings.TrimRight(c.Rclone.URL, "/")
	prefix := strings.TrimSpace(c.Rclone.ImportPrefix)
	if prefix == "" {
		prefix = defaultRcloneImportPrefix
	}
	c.Rclone.ImportPrefix = "/" + strings.Trim(prefix, "/")
	if c.Rclone.ConfirmAttempts <= 0 {
		c.Rclone.ConfirmAttempts = defaultConfirmAttempts
	}
	if c.Rclone.ConfirmIntervalMS <= 0 {
		c.Rclone.ConfirmIntervalMS = defaultConfirmIntervalMS
	}
}

func (c *Config) normalizeSABnzbd() {
	c.SABnzbd.URL = strings.TrimRight(strings.TrimSpace(c.SABnzbd.URL), "/")
	c.SABnzbd.APIKey = strings.TrimSpace(c.SABnzbd.APIKey)
	if c.SABnzbd.APIKey == "" {
		if value, ok := os.LookupEnv("SABNZBD_API_KEY"); ok {
			c.SABnzbd.APIKey = strings.TrimSpace(value)
		}
	}
	if c.SABnzbd.RequestsPerSecond == 0 {
		c.SABnzbd.RequestsPerSecond = defaultSABnzbdRPS
	}
}

func (c *Config) normalizeTriage() {
	c.Triage.Policy = strings.ToLower(strings.TrimSpace(c.Triage.Policy))
	if c.Triage.Policy == "" {
		c.Triage.Policy = defaultTriagePolicy
	}
	if c.Triage.RetryBackoffMS == 0 {
		c.Triage.RetryBackoffMS = defaultTriageRetryBackoffMS
	}
	if c.Triage.EventBuffer == 0 {
		c.Triage.EventBuffer = defaultEventBuffer
	}
}

func (c *Config) normalizeCategories() {
	for i := range c.Categories {
		category := &c.Categories[i]
		category.Name = strings.TrimSpace(category.Name)
		category.QueueLabel = strings.TrimSpace(category.QueueLabel)
		if category.QueueLabel == "" {
			category.QueueLabel = category.Name
		}
		lib := &category.Library
		lib.Kind = strings.ToLower(strings.TrimSpace(lib.Kind))
		lib.URL = strings.TrimRight(strings.TrimSpace(lib.URL), "/")
		lib.APIKey = strings.TrimSpace(lib.APIKey)
		if lib.APIKey == "" && category.Name != "" {
			if value, ok := os.LookupEnv(categoryEnvKey(category.Name)); ok {
				lib.APIKey = strings.TrimSpace(value)
			}
		}
	}
}

// categoryEnvKey maps a category name such as "sonarr-4k" to SONARR_4K_API_KEY.
func categoryEnvKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + "_API_KEY"
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
