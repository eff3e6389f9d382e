package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/logging"
	"audibridge/internal/metrics"
	"audibridge/internal/testsupport"
)

func TestJanitorSweep(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Janitor.ScratchMaxAgeHours = 1
	cfg.Janitor.LedgerRetentionDays = 1
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stale := testsupport.ScratchJob(t, cfg, "B000000001", 3*time.Hour)
	fresh := testsupport.ScratchJob(t, cfg, "B000000002", 0)

	done := testsupport.NewJob(t, st, "job-done", "B000000003")
	done.State = "complete"
	require.NoError(t, st.UpdateJob(ctx, done))
	testsupport.NewJob(t, st, "job-live", "B000000004")
	require.NoError(t, st.RetireToken(ctx, "digest-1", "serial:A"))

	j := newJanitor(cfg, st, metrics.New(), logging.NewNop())
	report, err := j.sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ScratchDirs)
	assert.Zero(t, report.Jobs, "rows inside retention are kept")
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)

	j.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	report, err = j.sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Jobs)
	assert.EqualValues(t, 1, report.RetiredTokens)

	live, err := st.GetJob(ctx, "job-live")
	require.NoError(t, err)
	assert.NotNil(t, live, "non-terminal rows are never pruned")
	retired, err := st.IsRetired(ctx, "digest-1")
	require.NoError(t, err)
	assert.False(t, retired)
}

func TestJanitorMissingScratchDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.ScratchDir = filepath.Join(t.TempDir(), "absent")

	j := newJanitor(cfg, nil, nil, nil)
	report, err := j.sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ScratchDirs)
}

func TestJanitorDisabledSchedulesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Janitor.Enabled = false

	j := newJanitor(cfg, nil, nil, nil)
	require.NoError(t, j.start(context.Background()))
	assert.Nil(t, j.scheduler)
	j.stop()
}
