package config

import "runtime"

const (
	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
)

const (
	defaultConfigPath             = "~/.config/audibridge/config.toml"
	defaultScratchDir             = "~/.local/share/audibridge/scratch"
	defaultStateDir               = "~/.local/share/audibridge/state"
	defaultLogDir                 = "~/.local/share/audibridge/logs"
	defaultObjectRoot             = "~/.local/share/audibridge/objects"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultCountry                = "us"
	defaultUserAgent              = "audibridge/dev"
	defaultRequestTimeoutSeconds  = 30
	defaultDownloadTimeoutSeconds = 1800
	defaultRequestsPerSecond      = 5
	defaultBurst                  = 10
	defaultRetryMaxAttempts       = 4
	defaultRetryInitialBackoffMS  = 500
	defaultRetryMaxBackoffMS      = 8000
	defaultRetryJitterPercent     = 20
	defaultLibraryPageSize        = 200
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultKeyHelper              = "audible-keyhelper"
	defaultJanitorInterval        = 30
	defaultScratchMaxAgeHours     = 24
	defaultLedgerRetentionDays    = 30
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

var defaultResponseGroups = []string{"product_desc", "product_attrs", "contributors"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir: defaultScratchDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Vendor: Vendor{
			DefaultCountry:         defaultCountry,
			UserAgent:              defaultUserAgent,
			RequestTimeoutSeconds:  defaultRequestTimeoutSeconds,
			DownloadTimeoutSeconds: defaultDownloadTimeoutSeconds,
			RequestsPerSecond:      defaultRequestsPerSecond,
			Burst:                  defaultBurst,
		},
		Retry: Retry{
			MaxAttempts:      defaultRetryMaxAttempts,
			InitialBackoffMS: defaultRetryInitialBackoffMS,
			MaxBackoffMS:     defaultRetryMaxBackoffMS,
			JitterPercent:    defaultRetryJitterPercent,
		},
		Workers: Workers{
			MaxJobs: runtime.NumCPU(),
		},
		Library: Library{
			PageSize:       defaultLibraryPageSize,
			ResponseGroups: append([]string(nil), defaultResponseGroups...),
		},
		Storage: Storage{
			Backend:    StorageFilesystem,
			Filesystem: Filesystem{Root: defaultObjectRoot},
		},
		Transcode: Transcode{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
			KeyHelper:     defaultKeyHelper,
		},
		Janitor: Janitor{
			Enabled:             true,
			IntervalMinutes:     defaultJanitorInterval,
			ScratchMaxAgeHours:  defaultScratchMaxAgeHours,
			LedgerRetentionDays: defaultLedgerRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
