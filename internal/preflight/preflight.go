package preflight

import (
	"context"
	"log/slog"

	"audibridge/internal/config"
	"audibridge/internal/deps"
	"audibridge/internal/media/proc"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// BucketChecker verifies that an object storage bucket is reachable.
type BucketChecker interface {
	CheckBucket(ctx context.Context, bucket string) error
}

type options struct {
	runner  proc.Runner
	buckets BucketChecker
	logger  *slog.Logger
}

// Option customises RunAll.
type Option func(*options)

// WithRunner sets the runner used for binary version probes.
func WithRunner(r proc.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithBucketChecker replaces the S3 client built from config.
func WithBucketChecker(c BucketChecker) Option {
	return func(o *options) { o.buckets = c }
}

// WithLogger sets the logger handed to storage clients built during checks.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts ...Option) []Result {
	if cfg == nil {
		return nil
	}
	o := options{runner: proc.ExecRunner{}}
	for _, opt := range opts {
		opt(&o)
	}

	results := []Result{
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckAPIKey(cfg.API.APIKey),
		CheckMarketplace(cfg.Vendor.DefaultCountry),
		CheckStorage(ctx, cfg, o.buckets, o.logger),
	}

	for _, status := range CheckSystemDeps(ctx, cfg, o.runner) {
		results = append(results, statusResult(status))
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

func statusResult(s deps.Status) Result {
	if s.Available {
		detail := s.Path
		if s.Version != "" {
			detail = s.Version
		}
		return Result{Name: s.Name, Passed: true, Detail: detail}
	}
	if s.Optional {
		return Result{Name: s.Name, Passed: true, Detail: "optional: " + s.Detail}
	}
	return Result{Name: s.Name, Detail: s.Detail}
}
