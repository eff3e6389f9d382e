package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"audibridge/internal/marketplace"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := marketplace.Validate(c.Vendor.DefaultCountry); err != nil {
		return fmt.Errorf("vendor.default_country: %w", err)
	}
	if err := c.validateVendor(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"workers.max_jobs":                c.Workers.MaxJobs,
		"library.page_size":               c.Library.PageSize,
		"retry.max_attempts":              c.Retry.MaxAttempts,
		"janitor.interval_minutes":        c.Janitor.IntervalMinutes,
		"janitor.scratch_max_age_hours":   c.Janitor.ScratchMaxAgeHours,
		"janitor.ledger_retention_days":   c.Janitor.LedgerRetentionDays,
		"vendor.request_timeout_seconds":  c.Vendor.RequestTimeoutSeconds,
		"vendor.download_timeout_seconds": c.Vendor.DownloadTimeoutSeconds,
	})
}

// ValidateServe enforces settings only the HTTP daemon needs.
func (c *Config) ValidateServe() error {
	if c.API.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("api.api_key is required. Set AUDIBRIDGE_API_KEY env var or edit %s (create with 'audibridge config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateVendor() error {
	for key, value := range map[string]string{
		"vendor.api_base_url":  c.Vendor.APIBaseURL,
		"vendor.auth_base_url": c.Vendor.AuthBaseURL,
	} {
		if value == "" {
			continue
		}
		parsed, err := url.Parse(value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
		}
	}
	if c.Vendor.RequestsPerSecond < 0 {
		return errors.New("vendor.requests_per_second must be zero (unlimited) or positive")
	}
	if c.Retry.JitterPercent < 0 || c.Retry.JitterPercent > 100 {
		return errors.New("retry.jitter_percent must be between 0 and 100")
	}
	if c.Retry.MaxBackoffMS < c.Retry.InitialBackoffMS {
		return errors.New("retry.max_backoff_ms must not be lower than retry.initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Storage.Filesystem.Root == "" {
			return errors.New("storage.filesystem.root must be set for the filesystem backend")
		}
	case StorageS3:
		if c.Storage.S3.Region == "" {
			return errors.New("storage.s3.region must be set for the s3 backend (or AWS_REGION)")
		}
		if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
			return errors.New("storage.s3.access_key_id and storage.s3.secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (use %s or %s)", c.Storage.Backend, StorageS3, StorageFilesystem)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	var problems []string
	for key, value := range values {
		if value <= 0 {
			problems = append(problems, key)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%s must be positive", strings.Join(problems, ", "))
}
