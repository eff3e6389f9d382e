package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audibridge/internal/audible"
	"audibridge/internal/logging"
	"audibridge/internal/marketplace"
	"audibridge/internal/media/ffmpeg"
	"audibridge/internal/media/ffprobe"
	"audibridge/internal/media/proc"
	"audibridge/internal/metrics"
	"audibridge/internal/services"
	"audibridge/internal/storage"
	"audibridge/internal/store"
)

// rollbackTimeout bounds deleting a failed job's uploads after its own
// context has ended.
const rollbackTimeout = 30 * time.Second

// Vendor is the content side of the vendor API. *audible.Client satisfies it.
type Vendor interface {
	RequestLicense(ctx context.Context, m marketplace.Marketplace, accessToken, asin string, format audible.Format) (audible.License, error)
	Download(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

// Ledger records job progress. *store.Store satisfies it.
type Ledger interface {
	CreateJob(ctx context.Context, job *store.JobRecord) error
	UpdateJob(ctx context.Context, job *store.JobRecord) error
}

// Options wires a Pipeline.
type Options struct {
	Vendor        Vendor
	Deriver       audible.KeyDeriver
	Runner        proc.Runner
	FFmpegBinary  string
	FFprobeBinary string
	Store         storage.ObjectStore
	Ledger        Ledger
	ScratchDir    string
	Retry         services.RetryPolicy
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Result is what a completed job reports.
type Result struct {
	JobID           string
	Format          audible.Format
	RawPath         string
	M4BPath         string
	DownloadedBytes int64
	Metadata        Metadata
}

// Pipeline runs acquisition jobs. It is safe for concurrent use; each Run
// works in its own scratch directory.
type Pipeline struct {
	opts       Options
	transcoder *ffmpeg.Transcoder
	logger     *slog.Logger
}

// NewPipeline validates collaborators and returns a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	switch {
	case opts.Vendor == nil:
		return nil, errors.New("acquisition: vendor is required")
	case opts.Store == nil:
		return nil, errors.New("acquisition: object store is required")
	case strings.TrimSpace(opts.ScratchDir) == "":
		return nil, errors.New("acquisition: scratch directory is required")
	}
	if opts.Runner == nil {
		opts.Runner = proc.ExecRunner{}
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = services.DefaultRetryPolicy()
	}
	logger := logging.NewComponentLogger(opts.Logger, "acquisition")
	return &Pipeline{
		opts:       opts,
		transcoder: ffmpeg.New(opts.Runner, opts.FFmpegBinary, opts.Logger),
		logger:     logger,
	}, nil
}

// run carries per-job working state.
type run struct {
	job      *Job
	record   *store.JobRecord
	scratch  string
	uploaded []string
	logger   *slog.Logger
}

// Run drives job to a terminal state. The scratch directory is removed on
// every path. Uploads go to job-scoped staging keys and are promoted only
// after both succeed; on failure the staged objects are deleted.
func (p *Pipeline) Run(ctx context.Context, job *Job) (res Result, err error) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithASIN(ctx, job.ASIN)
	r := &run{
		job: job,
		record: &store.JobRecord{
			ID:          job.ID,
			ASIN:        job.ASIN,
			CountryCode: job.CountryCode,
			Format:      string(job.Format),
			Bucket:      job.Bucket,
			Prefix:      job.Prefix,
			Account:     job.Credential.DeviceSerial,
			State:       string(job.State()),
		},
		logger: logging.WithContext(ctx, p.logger),
	}
	if p.opts.Ledger != nil {
		if lerr := p.opts.Ledger.CreateJob(ctx, r.record); lerr != nil {
			r.logger.Warn("job ledger insert failed", logging.Error(lerr))
		}
	}
	p.opts.Metrics.JobStarted()
	r.logger.Info("acquisition started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("format", string(job.Format)),
		logging.String("bucket", job.Bucket),
	)

	defer func() {
		if err != nil {
			p.rollback(ctx, r)
			p.fail(ctx, r, err)
		}
		p.opts.Metrics.JobFinished(string(job.Format), string(job.State()))
	}()

	m, err := marketplace.Lookup(job.CountryCode)
	if err != nil {
		return Result{}, err
	}
	rawKey, err := storage.ObjectKey(job.Prefix, job.ASIN, job.Format.Extension())
	if err != nil {
		return Result{}, err
	}
	m4bKey, err := storage.ObjectKey(job.Prefix, job.ASIN, "m4b")
	if err != nil {
		return Result{}, err
	}

	r.scratch = filepath.Join(p.opts.ScratchDir, job.ASIN+"-"+job.ID)
	if err := os.MkdirAll(r.scratch, 0o700); err != nil {
		return Result{}, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(r.scratch); rmErr != nil {
			r.logger.Warn("scratch cleanup failed",
				logging.String("path", r.scratch),
				logging.Error(rmErr),
			)
		}
	}()

	if err := p.advance(ctx, r, StateDownloading); err != nil {
		return Result{}, err
	}
	rawPath := filepath.Join(r.scratch, job.ASIN+"."+job.Format.Extension())
	params, written, err := p.download(ctx, r, m, rawPath)
	if err != nil {
		return Result{}, err
	}

	if err := p.advance(ctx, r, StateTranscoding); err != nil {
		return Result{}, err
	}
	m4bPath := filepath.Join(r.scratch, job.ASIN+".m4b")
	meta, err := p.transcode(ctx, r, rawPath, m4bPath, params)
	if err != nil {
		return Result{}, err
	}

	if err := p.advance(ctx, r, StateUploading); err != nil {
		return Result{}, err
	}
	started := time.Now()
	rawStaged := storage.StagingKey(rawKey, job.ID)
	m4bStaged := storage.StagingKey(m4bKey, job.ID)
	if err := p.upload(ctx, r, rawPath, rawStaged); err != nil {
		return Result{}, err
	}
	if err := p.upload(ctx, r, m4bPath, m4bStaged); err != nil {
		return Result{}, err
	}
	if err := p.promote(ctx, r, rawStaged, rawKey); err != nil {
		return Result{}, err
	}
	if err := p.promote(ctx, r, m4bStaged, m4bKey); err != nil {
		return Result{}, err
	}
	p.opts.Metrics.StageDuration(string(StateUploading), time.Since(started))

	r.record.RawPath = rawKey
	r.record.M4BPath = m4bKey
	if err := p.advance(ctx, r, StateComplete); err != nil {
		return Result{}, err
	}
	r.logger.Info("acquisition complete",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("raw_path", rawKey),
		logging.String("m4b_path", m4bKey),
		logging.Int("chapters", len(meta.Chapters)),
	)
	return Result{
		JobID:           job.ID,
		Format:          job.Format,
		RawPath:         rawKey,
		M4BPath:         m4bKey,
		DownloadedBytes: written,
		Metadata:        meta,
	}, nil
}

// download resolves the licence and the decryption parameters, then streams
// the encrypted container to rawPath. Both steps retry transient failures.
func (p *Pipeline) download(ctx context.Context, r *run, m marketplace.Marketplace, rawPath string) (ffmpeg.DecryptParams, int64, error) {
	job := r.job
	started := time.Now()
	ctx = services.WithStage(ctx, string(StateDownloading))

	var license audible.License
	err := services.Retry(ctx, p.opts.Retry, func(ctx context.Context, attempt int) error {
		var lerr error
		license, lerr = p.opts.Vendor.RequestLicense(ctx, m, job.Credential.AccessToken, job.ASIN, job.Format)
		if lerr != nil && services.IsRetriable(lerr) {
			r.logger.Debug("licence request failed, retrying", logging.Int("attempt", attempt), logging.Error(lerr))
		}
		return lerr
	})
	if err != nil {
		return ffmpeg.DecryptParams{}, 0, exhausted("licence request", err)
	}

	params, err := p.decryptParams(ctx, job, license)
	if err != nil {
		return ffmpeg.DecryptParams{}, 0, err
	}

	var written int64
	err = services.Retry(ctx, p.opts.Retry, func(ctx context.Context, attempt int) error {
		f, ferr := os.Create(rawPath)
		if ferr != nil {
			return fmt.Errorf("create download file: %w", ferr)
		}
		n, derr := p.opts.Vendor.Download(ctx, license.OfflineURL, f)
		cerr := f.Close()
		if derr != nil {
			if services.IsRetriable(derr) {
				r.logger.Debug("download attempt failed, retrying",
					logging.Int("attempt", attempt),
					logging.Int64("bytes", n),
					logging.Error(derr),
				)
			}
			return derr
		}
		if cerr != nil {
			return fmt.Errorf("close download file: %w", cerr)
		}
		written = n
		return nil
	})
	if err != nil {
		return ffmpeg.DecryptParams{}, 0, exhausted("download", err)
	}
	if written == 0 {
		return ffmpeg.DecryptParams{}, 0, services.Wrap(services.ErrDownloadFailed, "acquisition", "download", "vendor sent an empty file", nil)
	}
	p.opts.Metrics.StageDuration(string(StateDownloading), time.Since(started))
	r.logger.Info("content downloaded",
		logging.String(logging.FieldEventType, "download_completed"),
		logging.Int64("bytes", written),
		logging.Duration("elapsed", time.Since(started)),
	)
	return params, written, nil
}

func (p *Pipeline) decryptParams(ctx context.Context, job *Job, license audible.License) (ffmpeg.DecryptParams, error) {
	if job.Format == audible.FormatAAX {
		activation := job.Credential.ActivationBytes
		if !audible.ValidActivationBytes(activation) {
			return ffmpeg.DecryptParams{}, services.Wrap(services.ErrValidation, "acquisition", "licence",
				"auth.activation_bytes (8 hex characters) is required for aax downloads", nil)
		}
		return ffmpeg.DecryptParams{ActivationBytes: activation}, nil
	}
	if p.opts.Deriver == nil {
		return ffmpeg.DecryptParams{}, errors.New("acquisition: no key deriver configured")
	}
	key, err := p.opts.Deriver.Voucher(ctx, audible.VoucherRequest{
		ASIN:         job.ASIN,
		DeviceSerial: job.Credential.DeviceSerial,
		DeviceType:   audible.DeviceType,
		Voucher:      license.Voucher,
	})
	if err != nil {
		return ffmpeg.DecryptParams{}, err
	}
	return ffmpeg.DecryptParams{Key: key.Key, IV: key.IV}, nil
}

// transcode decrypts rawPath into m4bPath and extracts its metadata. Neither
// step is retried.
func (p *Pipeline) transcode(ctx context.Context, r *run, rawPath, m4bPath string, params ffmpeg.DecryptParams) (Metadata, error) {
	started := time.Now()
	ctx = services.WithStage(ctx, string(StateTranscoding))

	if err := p.transcoder.Decrypt(ctx, rawPath, m4bPath, params); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, ctxErr
		}
		return Metadata{}, err
	}
	probe, err := ffprobe.Inspect(ctx, p.opts.Runner, p.opts.FFprobeBinary, m4bPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Metadata{}, ctxErr
		}
		return Metadata{}, services.Wrap(services.ErrTranscodeFailed, "acquisition", "metadata extraction", "ffprobe", err)
	}
	meta, err := ExtractMetadata(probe)
	if err != nil {
		return Metadata{}, err
	}
	p.opts.Metrics.StageDuration(string(StateTranscoding), time.Since(started))
	r.logger.Info("content decrypted",
		logging.String(logging.FieldEventType, "transcode_completed"),
		logging.String("codec", meta.Codec),
		logging.Int("bitrate_kbs", meta.BitrateKbs),
		logging.Duration("elapsed", time.Since(started)),
	)
	return meta, nil
}

func (p *Pipeline) upload(ctx context.Context, r *run, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return services.Wrap(services.ErrStorageFailed, "acquisition", "upload", "open "+filepath.Base(localPath), err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return services.Wrap(services.ErrStorageFailed, "acquisition", "upload", "stat "+filepath.Base(localPath), err)
	}
	if err := p.opts.Store.Put(ctx, r.job.Bucket, key, f, info.Size()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, services.ErrStorageFailed) || errors.Is(err, services.ErrValidation) {
			return err
		}
		return services.Wrap(services.ErrStorageFailed, "acquisition", "upload", key, err)
	}
	r.uploaded = append(r.uploaded, key)
	return nil
}

// promote moves a staged upload to its final key. Once promoted the key is no
// longer this job's to roll back.
func (p *Pipeline) promote(ctx context.Context, r *run, staged, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.opts.Store.Promote(ctx, r.job.Bucket, staged, key); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, services.ErrStorageFailed) || errors.Is(err, services.ErrValidation) {
			return err
		}
		return services.Wrap(services.ErrStorageFailed, "acquisition", "promote", key, err)
	}
	for i, k := range r.uploaded {
		if k == staged {
			r.uploaded = append(r.uploaded[:i], r.uploaded[i+1:]...)
			break
		}
	}
	return nil
}

// rollback deletes this job's staged uploads. Promoted keys are shared with
// other jobs for the same title and are never touched. It runs detached from
// ctx so a cancelled job still cleans up.
func (p *Pipeline) rollback(ctx context.Context, r *run) {
	if len(r.uploaded) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	for _, key := range r.uploaded {
		if err := p.opts.Store.Delete(cleanupCtx, r.job.Bucket, key); err != nil {
			logging.ErrorWithContext(r.logger, "failed to remove partial upload", "upload_rollback_failed",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the object manually"),
			)
			continue
		}
		r.logger.Info("partial upload removed", logging.String("key", key))
	}
	r.uploaded = nil
}

func (p *Pipeline) advance(ctx context.Context, r *run, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := r.job.State()
	if err := r.job.Transition(next); err != nil {
		return err
	}
	r.record.State = string(next)
	p.persist(ctx, r)
	r.logger.Info("job state changed",
		logging.String(logging.FieldEventType, "job_state_changed"),
		logging.String("from", string(from)),
		logging.String("to", string(next)),
	)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, r *run, cause error) {
	if r.job.State().Terminal() {
		return
	}
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "cancelled"
	}
	from := r.job.State()
	if err := r.job.Fail(reason); err != nil {
		r.logger.Warn("job failure transition rejected", logging.Error(err))
		return
	}
	r.record.State = string(StateFailed)
	r.record.Reason = reason
	p.persist(context.WithoutCancel(ctx), r)
	logging.ErrorWithContext(r.logger, "acquisition failed", "job_failed",
		logging.String("from", string(from)),
		logging.Error(cause),
	)
}

func (p *Pipeline) persist(ctx context.Context, r *run) {
	if p.opts.Ledger == nil {
		return
	}
	if err := p.opts.Ledger.UpdateJob(ctx, r.record); err != nil {
		r.logger.Warn("job ledger update failed", logging.Error(err))
	}
}

// exhausted maps a failure that survived the retry loop onto the boundary
// taxonomy: throttling stays RateLimited, other transient faults become
// DownloadFailed, everything else passes through.
func exhausted(operation string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, services.ErrRateLimited), services.IsTerminal(err):
		return err
	case services.IsRetriable(err):
		return services.Wrap(services.ErrDownloadFailed, "acquisition", operation, "retries exhausted", err)
	default:
		return err
	}
}
