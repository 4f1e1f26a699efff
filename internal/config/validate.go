package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateTriage(); err != nil {
		return err
	}
	if err := c.validateCategories(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ImportRoot) == "" {
		return errors.New("paths.import_root must be set")
	}
	return nil
}

func (c *Config) validateServices() error {
	if c.Rclone.URL == "" {
		return errors.New("rclone.url must be set (or export RCLONE_URL)")
	}
	if c.SABnzbd.URL == "" {
		return errors.New("sabnzbd.url must be set")
	}
	if c.SABnzbd.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/blackhole/config.toml"
		}
		return fmt.Errorf("sabnzbd.api_key is required. Set SABNZBD_API_KEY env var or edit %s (create with 'blackhole config init')", defaultPath)
	}
	if c.SABnzbd.RequestsPerSecond < 0 {
		return errors.New("sabnzbd.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTriage() error {
	switch c.Triage.Policy {
	case PolicyExtension, PolicyStrict:
	default:
		return fmt.Errorf("triage.policy must be %q or %q, got %q", PolicyExtension, PolicyStrict, c.Triage.Policy)
	}
	if c.Triage.MaxRetries < 0 {
		return errors.New("triage.max_retries must be >= 0")
	}
	if c.Triage.RetryBackoffMS <= 0 {
		return errors.New("triage.retry_backoff_ms must be positive")
	}
	if c.Triage.EventBuffer <= 0 {
		return errors.New("triage.event_buffer must be positive")
	}
	return nil
}

func (c *Config) validateCategories() error {
	seen := make(map[string]struct{}, len(c.Categories))
	for i, category := range c.Categories {
		if category.Name == "" {
			return fmt.Errorf("categories[%d].name must be set", i)
		}
		if strings.ContainsAny(category.Name, `/\`) || category.Name == "." || category.Name == ".." {
			return fmt.Errorf("categories[%d].name %q must be a single directory name", i, category.Name)
		}
		key := strings.ToLower(category.Name)
		if key == CompletedDirName {
			return fmt.Errorf("categories[%d].name must not be %q", i, category.Name)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("categories[%d].name %q is declared more than once", i, category.Name)
		}
		seen[key] = struct{}{}
		if err := c.validateLibrary(category); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLibrary(category Category) error {
	lib := category.Library
	if !lib.Enabled() {
		return nil
	}
	prefix := fmt.Sprintf("categories.%s.library", category.Name)
	switch lib.Kind {
	case LibraryKindSeries, LibraryKindMovie:
	default:
		return fmt.Errorf("%s.kind must be %q or %q", prefix, LibraryKindSeries, LibraryKindMovie)
	}
	if lib.APIKey == "" {
		return fmt.Errorf("%s.api_key must be set (or export %s)", prefix, categoryEnvKey(category.Name))
	}
	if c.Triage.Policy != PolicyStrict {
		return fmt.Errorf("%s requires triage.policy = %q", prefix, PolicyStrict)
	}
	if c.Paths.ContentRoot == "" {
		return fmt.Errorf("paths.content_root must be set when %s is configured", prefix)
	}
	if c.Paths.MountRoot == "" {
		return fmt.Errorf("paths.mount_root must be set when %s is configured", prefix)
	}
	return nil
}
