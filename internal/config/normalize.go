package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeVendor()
	c.normalizeRetry()
	c.normalizeLibrary()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeTranscode()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.APIKey = strings.TrimSpace(c.API.APIKey)
	if c.API.APIKey == "" {
		if value, ok := os.LookupEnv("AUDIBRIDGE_API_KEY"); ok {
			c.API.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeVendor() {
	c.Vendor.DefaultCountry = strings.ToLower(strings.TrimSpace(c.Vendor.DefaultCountry))
	if c.Vendor.DefaultCountry == "" {
		c.Vendor.DefaultCountry = defaultCountry
	}
	c.Vendor.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Vendor.APIBaseURL), "/")
	c.Vendor.AuthBaseURL = strings.TrimRight(strings.TrimSpace(c.Vendor.AuthBaseURL), "/")
	c.Vendor.UserAgent = strings.TrimSpace(c.Vendor.UserAgent)
	if c.Vendor.UserAgent == "" {
		c.Vendor.UserAgent = defaultUserAgent
	}
	if c.Vendor.RequestTimeoutSeconds <= 0 {
		c.Vendor.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
	if c.Vendor.DownloadTimeoutSeconds <= 0 {
		c.Vendor.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}
	if c.Vendor.Burst <= 0 {
		c.Vendor.Burst = defaultBurst
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.InitialBackoffMS <= 0 {
		c.Retry.InitialBackoffMS = defaultRetryInitialBackoffMS
	}
	if c.Retry.MaxBackoffMS <= 0 {
		c.Retry.MaxBackoffMS = defaultRetryMaxBackoffMS
	}
	if c.Workers.MaxJobs <= 0 {
		c.Workers.MaxJobs = runtime.NumCPU()
	}
}

func (c *Config) normalizeLibrary() {
	if c.Library.PageSize <= 0 {
		c.Library.PageSize = defaultLibraryPageSize
	}
	groups := make([]string, 0, len(c.Library.ResponseGroups))
	seen := make(map[string]struct{}, len(c.Library.ResponseGroups))
	for _, group := range c.Library.ResponseGroups {
		normalized := strings.ToLower(strings.TrimSpace(group))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		groups = append(groups, normalized)
	}
	if len(groups) == 0 {
		groups = append(groups, defaultResponseGroups...)
	}
	c.Library.ResponseGroups = groups
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFilesystem
	}
	c.Storage.DefaultBucket = strings.TrimSpace(c.Storage.DefaultBucket)
	if c.Storage.DefaultBucket == "" {
		if value, ok := os.LookupEnv("AUDIBRIDGE_BUCKET"); ok {
			c.Storage.DefaultBucket = strings.TrimSpace(value)
		}
	}
	s3 := &c.Storage.S3
	s3.Region = strings.TrimSpace(s3.Region)
	if s3.Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			s3.Region = strings.TrimSpace(value)
		}
	}
	s3.Endpoint = strings.TrimSpace(s3.Endpoint)
	if s3.AccessKeyID == "" {
		if value, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
			s3.AccessKeyID = strings.TrimSpace(value)
		}
	}
	if s3.SecretAccessKey == "" {
		if value, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			s3.SecretAccessKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Storage.Filesystem.Root) == "" {
		c.Storage.Filesystem.Root = defaultObjectRoot
	}
	var err error
	if c.Storage.Filesystem.Root, err = expandPath(c.Storage.Filesystem.Root); err != nil {
		return fmt.Errorf("storage.filesystem.root: %w", err)
	}
	return nil
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.FFprobeBinary = strings.TrimSpace(c.Transcode.FFprobeBinary)
	if c.Transcode.FFprobeBinary == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
	c.Transcode.KeyHelper = strings.TrimSpace(c.Transcode.KeyHelper)
	if c.Transcode.KeyHelper == "" {
		c.Transcode.KeyHelper = defaultKeyHelper
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
