package acquisition_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audibridge/internal/acquisition"
	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/services"
	"audibridge/internal/storage"
	"audibridge/internal/store"
	"audibridge/internal/testsupport"
)

type harness struct {
	vendor   *testsupport.FakeVendor
	media    *testsupport.FakeMedia
	objects  *storage.Memory
	ledger   *store.Store
	scratch  string
	pipeline *acquisition.Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	vendor := testsupport.NewFakeVendor(t)
	h := &harness{
		vendor:  vendor,
		media:   testsupport.NewFakeMedia(),
		objects: storage.NewMemory(),
		ledger:  testsupport.MustOpenStore(t, cfg),
		scratch: cfg.Paths.ScratchDir,
	}
	client := audible.NewClient(5*time.Second, 5*time.Second,
		audible.WithAPIBaseURL(vendor.URL()),
		audible.WithAuthBaseURL(vendor.URL()),
	)
	pipeline, err := acquisition.NewPipeline(acquisition.Options{
		Vendor:        client,
		Deriver:       testsupport.FakeDeriver{},
		Runner:        h.media,
		FFmpegBinary:  "/usr/bin/ffmpeg",
		FFprobeBinary: "/usr/bin/ffprobe",
		Store:         h.objects,
		Ledger:        h.ledger,
		ScratchDir:    h.scratch,
		Retry: services.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
		Logger: logging.NewNop(),
	})
	require.NoError(t, err)
	h.pipeline = pipeline
	return h
}

func (h *harness) newJob(t *testing.T, mutate func(*acquisition.Request)) *acquisition.Job {
	t.Helper()
	req := validRequest()
	if mutate != nil {
		mutate(&req)
	}
	job, err := acquisition.NewJob(req)
	require.NoError(t, err)
	return job
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be empty")
}

func (h *harness) ledgerRow(t *testing.T, id string) *store.JobRecord {
	t.Helper()
	row, err := h.ledger.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, row)
	return row
}

func TestPipelineAAXCSuccess(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, nil)

	res, err := h.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "UserData/uid/Uploads/AudibleRaw/B072LK1GSN.aaxc", res.RawPath)
	assert.Equal(t, "UserData/uid/Uploads/AudibleRaw/B072LK1GSN.m4b", res.M4BPath)
	assert.True(t, strings.HasSuffix(res.RawPath, "B072LK1GSN.aaxc"))
	assert.Equal(t, int64(len(testsupport.Payload)), res.DownloadedBytes)
	assert.Equal(t, job.ID, res.JobID)
	assert.Equal(t, acquisition.StateComplete, job.State())

	require.Len(t, res.Metadata.Chapters, 3)
	assert.Equal(t, 0.0, res.Metadata.Chapters[0].StartTime)
	assert.Equal(t, "A Sample Book", res.Metadata.Title)

	raw, ok := h.objects.Get("audiobooks", res.RawPath)
	require.True(t, ok)
	assert.Equal(t, testsupport.Payload, string(raw))
	m4b, ok := h.objects.Get("audiobooks", res.M4BPath)
	require.True(t, ok)
	assert.Equal(t, "decrypted m4b payload", string(m4b))

	args := h.media.FFmpegArgs()
	assert.Contains(t, args, "-audible_key")
	assert.Contains(t, args, testsupport.FakeVoucherKey)
	assert.Contains(t, args, testsupport.FakeVoucherIV)
	assert.NotContains(t, args, "-activation_bytes")

	h.assertScratchEmpty(t)

	row := h.ledgerRow(t, job.ID)
	assert.Equal(t, "complete", row.State)
	assert.Equal(t, res.M4BPath, row.M4BPath)
	assert.Equal(t, "SERIAL1", row.Account)
}

func TestPipelineAAXUsesActivationBytes(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, func(r *acquisition.Request) { r.Format = audible.FormatAAX })

	res, err := h.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.RawPath, "B072LK1GSN.aax"))
	args := h.media.FFmpegArgs()
	assert.Contains(t, args, "-activation_bytes")
	assert.Contains(t, args, "1ceb00da")
	assert.NotContains(t, args, "-audible_key")
}

func TestPipelineAAXRequiresActivationBytes(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, func(r *acquisition.Request) {
		r.Format = audible.FormatAAX
		r.Credential.ActivationBytes = ""
	})

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrValidation), "got %v", err)
	assert.Equal(t, 0, h.vendor.Requests("download"))
	assert.Equal(t, acquisition.StateFailed, job.State())
	h.assertScratchEmpty(t)
}

func TestPipelineDeniedLicenceIsNotRetried(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, func(r *acquisition.Request) { r.ASIN = "B000DENIED" })

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrAuthFailed), "got %v", err)
	assert.Equal(t, 1, h.vendor.Requests("license"))
}

func TestPipelineRetriesTransientDownloads(t *testing.T) {
	h := newHarness(t)
	h.vendor.FailDownloads(2)
	job := h.newJob(t, nil)

	res, err := h.pipeline.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 3, h.vendor.Requests("download"))
	raw, ok := h.objects.Get("audiobooks", res.RawPath)
	require.True(t, ok)
	assert.Equal(t, testsupport.Payload, string(raw), "retried download must not append to the partial file")
}

func TestPipelineDownloadExhaustion(t *testing.T) {
	h := newHarness(t)
	h.vendor.FailDownloads(10)
	job := h.newJob(t, nil)

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrDownloadFailed), "got %v", err)
	assert.Equal(t, 3, h.vendor.Requests("download"))
	assert.Empty(t, h.objects.Keys())
	h.assertScratchEmpty(t)

	row := h.ledgerRow(t, job.ID)
	assert.Equal(t, "failed", row.State)
	assert.NotEmpty(t, row.Reason)
}

func TestPipelineTranscodeFailureCleansUp(t *testing.T) {
	h := newHarness(t)
	h.media.FFmpegExit = 1
	h.media.FFmpegStderr = "Invalid data found when processing input\n"
	job := h.newJob(t, nil)

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrTranscodeFailed), "got %v", err)
	assert.Equal(t, acquisition.StateFailed, job.State())
	assert.Contains(t, job.Reason(), "Invalid data found")
	assert.Empty(t, h.objects.Keys())
	h.assertScratchEmpty(t)

	for _, cmd := range h.media.Calls() {
		assert.NotContains(t, cmd.Binary, "ffprobe", "metadata is not extracted after a failed decrypt")
	}
}

func TestPipelineChapterMismatchFailsJob(t *testing.T) {
	h := newHarness(t)
	h.media.Probe = strings.Replace(testsupport.ProbeJSON, `"end_time": "90.000000"`, `"end_time": "80.000000"`, 1)
	job := h.newJob(t, nil)

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrTranscodeFailed), "got %v", err)
	assert.Empty(t, h.objects.Keys())
	h.assertScratchEmpty(t)
}

func TestPipelineUploadFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.objects.FailPut = func(_, key string) error {
		if strings.Contains(key, ".m4b") {
			return errors.New("disk full")
		}
		return nil
	}
	job := h.newJob(t, nil)

	_, err := h.pipeline.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrStorageFailed), "got %v", err)
	assert.Empty(t, h.objects.Keys(), "raw upload should be rolled back")
	h.assertScratchEmpty(t)

	row := h.ledgerRow(t, job.ID)
	assert.Equal(t, "failed", row.State)
	assert.Empty(t, row.M4BPath)
}

func TestPipelineFailedJobKeepsEarlierOutput(t *testing.T) {
	h := newHarness(t)
	first := h.newJob(t, nil)
	done, err := h.pipeline.Run(context.Background(), first)
	require.NoError(t, err)

	h.objects.FailPut = func(_, key string) error {
		if strings.Contains(key, ".m4b") {
			return errors.New("disk full")
		}
		return nil
	}
	second := h.newJob(t, nil)
	_, err = h.pipeline.Run(context.Background(), second)
	require.ErrorIs(t, err, services.ErrStorageFailed)

	assert.Equal(t, []string{
		"audiobooks/" + done.RawPath,
		"audiobooks/" + done.M4BPath,
	}, h.objects.Keys())
	raw, ok := h.objects.Get("audiobooks", done.RawPath)
	require.True(t, ok)
	assert.Equal(t, testsupport.Payload, string(raw))
	h.assertScratchEmpty(t)
}

func TestPipelineConcurrentJobsSameTitle(t *testing.T) {
	h := newHarness(t)
	jobs := []*acquisition.Job{h.newJob(t, nil), h.newJob(t, nil)}

	errs := make(chan error, len(jobs))
	for _, job := range jobs {
		go func() {
			_, err := h.pipeline.Run(context.Background(), job)
			errs <- err
		}()
	}
	for range jobs {
		require.NoError(t, <-errs)
	}
	assert.Len(t, h.objects.Keys(), 2)
	h.assertScratchEmpty(t)
}

func TestPipelineCancellation(t *testing.T) {
	h := newHarness(t)
	h.media.BlockFFmpeg = true
	job := h.newJob(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Run(ctx, job)
		errCh <- err
	}()

	select {
	case <-h.media.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("ffmpeg was never started")
	}
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}

	assert.Equal(t, acquisition.StateFailed, job.State())
	assert.Equal(t, "cancelled", job.Reason())
	assert.Empty(t, h.objects.Keys())
	h.assertScratchEmpty(t)

	row := h.ledgerRow(t, job.ID)
	assert.Equal(t, "failed", row.State)
	assert.Equal(t, "cancelled", row.Reason)
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := acquisition.NewPipeline(acquisition.Options{Store: storage.NewMemory(), ScratchDir: t.TempDir()})
	assert.Error(t, err)

	_, err = acquisition.NewPipeline(acquisition.Options{Vendor: audible.NewClient(time.Second, time.Second), ScratchDir: t.TempDir()})
	assert.Error(t, err)

	_, err = acquisition.NewPipeline(acquisition.Options{Vendor: audible.NewClient(time.Second, time.Second), Store: storage.NewMemory()})
	assert.Error(t, err)
}
