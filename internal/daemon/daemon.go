package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"audibridge/internal/acquisition"
	"audibridge/internal/audible"
	"audibridge/internal/auth"
	"audibridge/internal/config"
	"audibridge/internal/library"
	"audibridge/internal/logging"
	"audibridge/internal/media/proc"
	"audibridge/internal/metrics"
	"audibridge/internal/storage"
	"audibridge/internal/store"
)

// Dependencies lets callers replace collaborators New would otherwise build
// from configuration. Zero fields are built.
type Dependencies struct {
	Store   *store.Store
	Objects storage.ObjectStore
	Vendor  *audible.Client
	Deriver audible.KeyDeriver
	Runner  proc.Runner
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Version string
}

// Daemon owns the HTTP API, the worker pool and the janitor, and enforces
// single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	metrics *metrics.Metrics
	pool    *acquisition.Pool
	api     *apiServer
	janitor *janitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Address      string
	DatabasePath string
	LockFilePath string
	Jobs         map[string]int
}

// NewVendorClient builds the vendor client from configuration.
func NewVendorClient(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *audible.Client {
	return audible.NewClient(cfg.RequestTimeout(), cfg.DownloadTimeout(),
		audible.WithAPIBaseURL(cfg.Vendor.APIBaseURL),
		audible.WithAuthBaseURL(cfg.Vendor.AuthBaseURL),
		audible.WithUserAgent(cfg.Vendor.UserAgent),
		audible.WithRateLimit(cfg.Vendor.RequestsPerSecond, cfg.Vendor.Burst),
		audible.WithMetrics(m),
		audible.WithLogger(logger),
	)
}

// Components are the domain services shared by the daemon and the one-shot
// CLI commands.
type Components struct {
	Store    *store.Store
	Auth     *auth.Service
	Lister   *library.Lister
	Pipeline *acquisition.Pipeline
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Close closes the job ledger.
func (c *Components) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// NewComponents builds the services from configuration, using any
// collaborators supplied in deps. The store is opened here unless one is
// supplied; either way Components.Close closes it.
func NewComponents(ctx context.Context, cfg *config.Config, deps Dependencies) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("components require configuration")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	st := deps.Store
	if st == nil {
		opened, err := store.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open job ledger: %w", err)
		}
		st = opened
	}
	objects := deps.Objects
	if objects == nil {
		built, err := storage.New(ctx, cfg, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("object storage: %w", err)
		}
		objects = built
	}
	vendor := deps.Vendor
	if vendor == nil {
		vendor = NewVendorClient(cfg, m, logger)
	}
	runner := deps.Runner
	if runner == nil {
		runner = proc.ExecRunner{}
	}
	deriver := deps.Deriver
	if deriver == nil {
		deriver = audible.CommandDeriver{Runner: runner, Binary: cfg.Transcode.KeyHelper, Args: cfg.Transcode.KeyHelperArgs}
	}

	authSvc := auth.NewService(vendor, deriver, st,
		auth.WithDefaultCountry(cfg.Vendor.DefaultCountry),
		auth.WithMetrics(m),
		auth.WithLogger(logger),
	)
	lister := library.NewLister(vendor, library.Options{
		PageSize:       cfg.Library.PageSize,
		ResponseGroups: cfg.Library.ResponseGroups,
		DefaultCountry: cfg.Vendor.DefaultCountry,
		Retry:          cfg.RetryPolicy(),
		Logger:         logger,
	})
	pipeline, err := acquisition.NewPipeline(acquisition.Options{
		Vendor:        vendor,
		Deriver:       deriver,
		Runner:        runner,
		FFmpegBinary:  cfg.Transcode.FFmpegBinary,
		FFprobeBinary: cfg.Transcode.FFprobeBinary,
		Store:         objects,
		Ledger:        st,
		ScratchDir:    cfg.Paths.ScratchDir,
		Retry:         cfg.RetryPolicy(),
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return &Components{
		Store:    st,
		Auth:     authSvc,
		Lister:   lister,
		Pipeline: pipeline,
		Metrics:  m,
		Logger:   logger,
	}, nil
}

// New constructs a daemon with initialized dependencies. Close closes the
// store whether it was supplied or opened here.
func New(ctx context.Context, cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	c, err := NewComponents(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	pool := acquisition.NewPool(c.Pipeline, cfg.Workers.MaxJobs)

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   c.Logger,
		store:    c.Store,
		metrics:  c.Metrics,
		pool:     pool,
		janitor:  newJanitor(cfg, c.Store, c.Metrics, c.Logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, apiDeps{
		auth:    c.Auth,
		lister:  c.Lister,
		pool:    pool,
		jobs:    c.Store,
		metrics: c.Metrics,
		version: deps.Version,
		logger:  c.Logger,
	})
	return d, nil
}

// Start acquires the daemon lock, fails jobs a previous process left in
// flight, and starts the API listener and the janitor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another audibridge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if n, err := d.store.FailInterrupted(runCtx, "interrupted by daemon restart"); err != nil {
		d.logger.Warn("could not fail interrupted jobs", logging.Error(err))
	} else if n > 0 {
		d.logger.Info("interrupted jobs marked failed", logging.Int64("count", n))
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if err := d.janitor.start(runCtx); err != nil {
		cancel()
		d.api.stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start janitor: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("audibridge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.Int("max_jobs", d.pool.Size()),
	)
	return nil
}

// Stop cancels running jobs, shuts the listener down, waits for the jobs to
// roll back, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.janitor.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.pool.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("audibridge daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr is the address the API listens on once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Handler exposes the API router, for tests and embedding.
func (d *Daemon) Handler() http.Handler {
	return d.api.router
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	jobs, err := d.store.CountJobsByState(ctx)
	if err != nil {
		d.logger.Warn("job stats unavailable", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.api.addr(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Jobs:         jobs,
	}
}
