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

	"audibridge/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// API contains the HTTP listener configuration.
type API struct {
	Bind   string `toml:"bind"`
	APIKey string `toml:"api_key"`
}

// Vendor contains settings for calls to the audiobook vendor.
type Vendor struct {
	DefaultCountry         string  `toml:"default_country"`
	APIBaseURL             string  `toml:"api_base_url"`
	AuthBaseURL            string  `toml:"auth_base_url"`
	UserAgent              string  `toml:"user_agent"`
	RequestTimeoutSeconds  int     `toml:"request_timeout_seconds"`
	DownloadTimeoutSeconds int     `toml:"download_timeout_seconds"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	Burst                  int     `toml:"burst"`
}

// Retry bounds exponential backoff for transient failures.
type Retry struct {
	MaxAttempts      int `toml:"max_attempts"`
	InitialBackoffMS int `toml:"initial_backoff_ms"`
	MaxBackoffMS     int `toml:"max_backoff_ms"`
	JitterPercent    int `toml:"jitter_percent"`
}

// Workers sizes the acquisition worker pool.
type Workers struct {
	MaxJobs int `toml:"max_jobs"`
}

// Library contains catalog listing settings.
type Library struct {
	PageSize       int      `toml:"page_size"`
	ResponseGroups []string `toml:"response_groups"`
}

// S3 contains S3-compatible object store settings.
type S3 struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Filesystem contains local object store settings.
type Filesystem struct {
	Root string `toml:"root"`
}

// Storage selects and configures the durable object store.
type Storage struct {
	Backend       string     `toml:"backend"`
	DefaultBucket string     `toml:"default_bucket"`
	S3            S3         `toml:"s3"`
	Filesystem    Filesystem `toml:"filesystem"`
}

// Transcode contains external tool settings.
type Transcode struct {
	FFmpegBinary  string   `toml:"ffmpeg_binary"`
	FFprobeBinary string   `toml:"ffprobe_binary"`
	KeyHelper     string   `toml:"key_helper"`
	KeyHelperArgs []string `toml:"key_helper_args"`
}

// Janitor contains background housekeeping settings.
type Janitor struct {
	Enabled             bool `toml:"enabled"`
	IntervalMinutes     int  `toml:"interval_minutes"`
	ScratchMaxAgeHours  int  `toml:"scratch_max_age_hours"`
	LedgerRetentionDays int  `toml:"ledger_retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for audibridge. It is built
// once at process start and passed explicitly into every component.
type Config struct {
	Paths     Paths     `toml:"paths"`
	API       API       `toml:"api"`
	Vendor    Vendor    `toml:"vendor"`
	Retry     Retry     `toml:"retry"`
	Workers   Workers   `toml:"workers"`
	Library   Library   `toml:"library"`
	Storage   Storage   `toml:"storage"`
	Transcode Transcode `toml:"transcode"`
	Janitor   Janitor   `toml:"janitor"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
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
		decoder.DisallowUnknownFields()
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

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("audibridge.toml")
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

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.ScratchDir, c.Paths.StateDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Storage.Filesystem.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the sqlite ledger location inside the state directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "audibridge.db")
}

// LockPath is the single-instance daemon lock inside the state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "audibridge.lock")
}

// RequestTimeout is the per-request deadline for vendor API calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Vendor.RequestTimeoutSeconds) * time.Second
}

// DownloadTimeout bounds one content download attempt.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Vendor.DownloadTimeoutSeconds) * time.Second
}

// RetryPolicy converts the [retry] section into the backoff policy used by
// vendor calls and downloads.
func (c *Config) RetryPolicy() services.RetryPolicy {
	return services.RetryPolicy{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: time.Duration(c.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond,
		JitterPercent:  uint64(c.Retry.JitterPercent),
	}
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
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
