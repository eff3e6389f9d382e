package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"audibridge/internal/config"
	"audibridge/internal/deps"
	"audibridge/internal/marketplace"
	"audibridge/internal/media/proc"
	"audibridge/internal/storage"
)

const bucketCheckTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckAPIKey fails when the HTTP API would reject every request.
func CheckAPIKey(key string) Result {
	const name = "API key"
	if strings.TrimSpace(key) == "" {
		return Result{Name: name, Detail: "api.api_key is empty (set it or AUDIBRIDGE_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckMarketplace verifies the default country resolves to a marketplace.
func CheckMarketplace(country string) Result {
	const name = "Default marketplace"
	m, err := marketplace.Lookup(country)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", m.DisplayName(), m.Domain)}
}

// CheckStorage verifies the configured object storage backend. For S3 a nil
// checker means a client is built from config.
func CheckStorage(ctx context.Context, cfg *config.Config, checker BucketChecker, logger *slog.Logger) Result {
	switch cfg.Storage.Backend {
	case config.StorageFilesystem:
		return CheckDirectoryAccess("Object storage", cfg.Storage.Filesystem.Root)
	case config.StorageS3:
		const name = "Object storage"
		bucket := strings.TrimSpace(cfg.Storage.DefaultBucket)
		if bucket == "" {
			return Result{Name: name, Passed: true, Detail: "s3 (no default bucket, probe skipped)"}
		}
		checkCtx, cancel := context.WithTimeout(ctx, bucketCheckTimeout)
		defer cancel()
		if checker == nil {
			client, err := storage.NewS3(checkCtx, cfg.Storage.S3, logger)
			if err != nil {
				return Result{Name: name, Detail: fmt.Sprintf("s3 client: %v", err)}
			}
			checker = client
		}
		if err := checker.CheckBucket(checkCtx, bucket); err != nil {
			return Result{Name: name, Detail: summarizeError("bucket "+bucket, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("s3 bucket %s reachable", bucket)}
	default:
		return Result{Name: "Object storage", Detail: fmt.Sprintf("unknown backend %q", cfg.Storage.Backend)}
	}
}

// CheckSystemDeps evaluates the external programs the acquisition pipeline
// runs. Both `serve` and the CLI preflight command use this list.
func CheckSystemDeps(ctx context.Context, cfg *config.Config, runner proc.Runner) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Transcode.FFmpegBinary,
			Description: "Required for decrypting and remuxing downloads",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Transcode.FFprobeBinary,
			Description: "Required for chapter and tag extraction",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
		{
			Name:        "Key helper",
			Command:     cfg.Transcode.KeyHelper,
			Description: "Required for activation bytes and voucher decoding",
		},
	}
	statuses := deps.CheckBinaries(requirements)
	return deps.ProbeVersions(ctx, runner, requirements, statuses)
}

func summarizeError(subject string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return subject + ": check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return subject + ": unreachable (timeout)"
	}
	return fmt.Sprintf("%s: %v", subject, err)
}
