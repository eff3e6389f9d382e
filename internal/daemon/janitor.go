package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron"

	"audibridge/internal/config"
	"audibridge/internal/logging"
	"audibridge/internal/metrics"
	"audibridge/internal/store"
)

// janitorReport counts what one sweep removed.
type janitorReport struct {
	ScratchDirs   int
	Jobs          int64
	RetiredTokens int64
}

// janitor removes scratch directories left behind by crashed processes and
// prunes ledger rows past retention.
type janitor struct {
	cfg       *config.Config
	store     *store.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	scheduler *gocron.Scheduler
}

func newJanitor(cfg *config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *janitor {
	return &janitor{
		cfg:     cfg,
		store:   st,
		metrics: m,
		logger:  logging.NewComponentLogger(logger, "janitor"),
		now:     time.Now,
	}
}

func (j *janitor) start(ctx context.Context) error {
	if !j.cfg.Janitor.Enabled {
		j.logger.Info("janitor disabled")
		return nil
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(j.cfg.Janitor.IntervalMinutes).Minutes().Do(func() {
		if _, err := j.sweep(ctx); err != nil {
			logging.WarnWithContext(j.logger, "janitor sweep incomplete", "janitor_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale scratch files or ledger rows remain until the next sweep"),
			)
		}
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	j.scheduler = s
	j.logger.Info("janitor scheduled", logging.Int("interval_minutes", j.cfg.Janitor.IntervalMinutes))
	return nil
}

func (j *janitor) stop() {
	if j.scheduler != nil {
		j.scheduler.Stop()
		j.scheduler = nil
	}
}

// sweep runs one housekeeping pass. Every step runs even when an earlier one
// fails; the errors are joined.
func (j *janitor) sweep(ctx context.Context) (janitorReport, error) {
	var report janitorReport
	var errs []error
	now := j.now()

	removed, err := j.sweepScratch(now.Add(-time.Duration(j.cfg.Janitor.ScratchMaxAgeHours) * time.Hour))
	report.ScratchDirs = removed
	if err != nil {
		errs = append(errs, err)
	}
	j.metrics.JanitorRemoved("scratch", removed)

	cutoff := now.Add(-time.Duration(j.cfg.Janitor.LedgerRetentionDays) * 24 * time.Hour)
	if j.store != nil {
		jobs, err := j.store.PruneJobs(ctx, cutoff, "complete", "failed")
		if err != nil {
			errs = append(errs, err)
		}
		report.Jobs = jobs
		j.metrics.JanitorRemoved("jobs", int(jobs))

		tokens, err := j.store.PruneRetired(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		report.RetiredTokens = tokens
		j.metrics.JanitorRemoved("retired_tokens", int(tokens))
	}

	j.logger.Debug("janitor sweep complete",
		logging.String(logging.FieldEventType, "janitor_sweep"),
		logging.Int("scratch_dirs", report.ScratchDirs),
		logging.Int64("jobs", report.Jobs),
		logging.Int64("retired_tokens", report.RetiredTokens),
	)
	return report, errors.Join(errs...)
}

func (j *janitor) sweepScratch(cutoff time.Time) (int, error) {
	root := j.cfg.Paths.ScratchDir
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		j.logger.Info("stale scratch entry removed", logging.String("path", path))
	}
	return removed, errors.Join(errs...)
}
