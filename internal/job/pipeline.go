package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/preset"
	"github.com/maauso/vidcompress/internal/progress"
)

const (
	defaultMaxConcurrentTranscodes = 2
	defaultInputExt                = ".mp4"
	finalizeTimeout                = 10 * time.Second
)

// Request is one submission from the chat layer.
type Request struct {
	UserID    int64
	Source    SourceRef
	PresetKey string
	// Sink receives throttled progress events. Nil discards them.
	Sink progress.Sink
}

// Summary describes a finished job.
type Summary struct {
	JobID            string
	UserID           int64
	PresetKey        string
	State            State
	InputBytes       int64
	OutputBytes      int64
	ReductionPercent float64
	Media            media.Info
	// Duration is the total wall time of the run.
	Duration      time.Duration
	DownloadTime  time.Duration
	TranscodeTime time.Duration
	UploadTime    time.Duration
	ArchiveURL    string
}

// Dependencies are the collaborators a Pipeline cannot run without.
type Dependencies struct {
	Store      Store
	Catalog    *preset.Catalog
	Prober     media.Prober
	Transcoder media.Transcoder
	Downloader Downloader
	Uploader   Uploader
	Workspace  Workspace
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Catalog == nil {
		missing = append(missing, "catalog")
	}
	if d.Prober == nil {
		missing = append(missing, "prober")
	}
	if d.Transcoder == nil {
		missing = append(missing, "transcoder")
	}
	if d.Downloader == nil {
		missing = append(missing, "downloader")
	}
	if d.Uploader == nil {
		missing = append(missing, "uploader")
	}
	if d.Workspace == nil {
		missing = append(missing, "workspace")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Pipeline drives jobs through Download, Probe, Transcode and Upload.
// Each Run owns its job exclusively; distinct users run concurrently and
// only the transcode stage is bounded.
type Pipeline struct {
	deps        Dependencies
	journal     Journal
	archive     Archive
	transcodes  *semaphore.Weighted
	maxParallel int64
	reporter    []progress.Option
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxConcurrentTranscodes bounds how many jobs transcode at once.
func WithMaxConcurrentTranscodes(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxParallel = int64(n)
		}
	}
}

// WithJournal records write-ahead markers for every stage transition.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		if j != nil {
			p.journal = j
		}
	}
}

// WithArchive keeps a copy of every compressed output.
func WithArchive(a Archive) Option {
	return func(p *Pipeline) {
		p.archive = a
	}
}

// WithReporterConfig sets the progress throttle for every job.
func WithReporterConfig(minInterval time.Duration, stepPercent float64) Option {
	return func(p *Pipeline) {
		p.reporter = append(p.reporter,
			progress.WithMinInterval(minInterval),
			progress.WithStepPercent(stepPercent),
		)
	}
}

// WithClock replaces time.Now for durations in Summary.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps Dependencies, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		deps:        deps,
		journal:     noopJournal{},
		maxParallel: defaultMaxConcurrentTranscodes,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.transcodes = semaphore.NewWeighted(p.maxParallel)
	p.reporter = append(p.reporter, progress.WithLogger(p.logger))
	return p, nil
}

// Status returns the user's current job, if any.
func (p *Pipeline) Status(ctx context.Context, userID int64) (View, bool) {
	return p.deps.Store.Get(ctx, userID)
}

// RequestCancel flags the user's running job. The job observes the flag at
// its next checkpoint. Returns ErrNotFound if nothing is running.
func (p *Pipeline) RequestCancel(ctx context.Context, userID int64) error {
	return p.deps.Store.RequestCancel(ctx, userID)
}

// Jobs returns snapshots of all jobs currently tracked.
func (p *Pipeline) Jobs(ctx context.Context) []View {
	return p.deps.Store.List(ctx)
}

// Catalog returns the preset catalog jobs are resolved against.
func (p *Pipeline) Catalog() *preset.Catalog {
	return p.deps.Catalog
}

// Run executes one job to a terminal state. It fails fast with
// ErrAlreadyActive before any I/O when the user already has a running job.
//
// On every terminal outcome the job's temp files are deleted and the job is
// removed from the store before Run returns. Failures are *StageError;
// cancellation returns ErrCancelled with a Summary in state Cancelled.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	pr, err := p.deps.Catalog.Get(req.PresetKey)
	if err != nil {
		return Summary{}, err
	}

	view, err := p.deps.Store.TryCreate(ctx, req.UserID, req.Source, pr.Key)
	if err != nil {
		return Summary{}, err
	}

	r := &run{
		p:      p,
		jobID:  view.ID,
		req:    req,
		preset: pr,
		start:  p.now(),
		logger: p.logger.With(
			slog.String("job_id", view.ID),
			slog.Int64("user_id", req.UserID),
			slog.String("preset", pr.Key),
		),
		summary: Summary{
			JobID:     view.ID,
			UserID:    req.UserID,
			PresetKey: pr.Key,
		},
	}
	return r.execute(ctx)
}

// run holds the working state of a single Run call.
type run struct {
	p       *Pipeline
	jobID   string
	req     Request
	preset  preset.Preset
	logger  *slog.Logger
	start   time.Time
	summary Summary

	inputPath  string
	outputPath string
	state      State
	reporter   *progress.Reporter
	cancel     context.CancelCauseFunc
}

func (r *run) execute(ctx context.Context) (Summary, error) {
	store := r.p.deps.Store

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancel = cancel

	// Cooperative cancellation: the flag closes this channel, which aborts
	// whatever the current stage is blocked on.
	if cancelled, err := store.Cancelled(ctx, r.jobID); err == nil {
		go func() {
			select {
			case <-cancelled:
				cancel(ErrCancelled)
			case <-runCtx.Done():
			}
		}()
	}

	r.reporter = progress.NewReporter(r.req.Sink, r.p.reporter...)
	r.state = StateQueued
	r.logger.Info("job accepted")

	err := r.stages(runCtx)
	return r.finish(ctx, err)
}

func (r *run) stages(ctx context.Context) error {
	deps := r.p.deps

	in, out, err := deps.Workspace.Allocate(r.jobID, inputExt(r.req.Source), r.preset.Extension())
	if err != nil {
		return &StageError{Stage: StateQueued, Err: fmt.Errorf("allocate workspace: %w", err)}
	}
	r.inputPath, r.outputPath = in, out
	if err := deps.Store.SetPaths(ctx, r.jobID, in, out); err != nil {
		return &StageError{Stage: StateQueued, Err: err}
	}
	r.mark(ctx)

	// Download
	if err := r.advance(ctx, StateDownloading); err != nil {
		return err
	}
	began := r.p.now()
	err = deps.Downloader.Download(ctx, r.req.Source, in, r.transferProgress(ctx, progress.StageDownloading))
	r.summary.DownloadTime = r.p.now().Sub(began)
	if err != nil {
		if r.cancelled(ctx) {
			return ErrCancelled
		}
		return &StageError{Stage: StateDownloading, Err: fmt.Errorf("%w: %w", ErrDownload, err)}
	}
	fi, err := os.Stat(in)
	if err != nil {
		return &StageError{Stage: StateDownloading, Err: fmt.Errorf("%w: %w", ErrDownload, err)}
	}
	r.summary.InputBytes = fi.Size()
	_ = deps.Store.SetInputBytes(ctx, r.jobID, fi.Size())
	r.stageDone(progress.StageDownloading, float64(fi.Size()))

	// Probe
	if err := r.advance(ctx, StateProbing); err != nil {
		return err
	}
	info, err := deps.Prober.Probe(ctx, in)
	if err != nil {
		if r.cancelled(ctx) {
			return ErrCancelled
		}
		return &StageError{Stage: StateProbing, Err: err}
	}
	r.summary.Media = info
	if info.Duration == 0 {
		r.logger.Warn("source has no duration, transcode progress will be indeterminate")
	}

	// Transcode
	if err := r.advance(ctx, StateTranscoding); err != nil {
		return err
	}
	stats, err := r.transcode(ctx, info)
	if err != nil {
		return err
	}
	r.summary.OutputBytes = stats.OutputBytes
	r.summary.ReductionPercent = stats.ReductionPercent

	r.archiveOutput(ctx)

	// Upload
	if err := r.advance(ctx, StateUploading); err != nil {
		return err
	}
	meta := UploadMetadata{
		JobID:            r.jobID,
		Preset:           r.preset,
		Media:            info,
		InputBytes:       r.summary.InputBytes,
		OutputBytes:      stats.OutputBytes,
		ReductionPercent: stats.ReductionPercent,
		Elapsed:          r.p.now().Sub(r.start),
		ArchiveURL:       r.summary.ArchiveURL,
	}
	began = r.p.now()
	err = deps.Uploader.Upload(ctx, r.req.Source, out, meta, r.transferProgress(ctx, progress.StageUploading))
	r.summary.UploadTime = r.p.now().Sub(began)
	if err != nil {
		if r.cancelled(ctx) {
			return ErrCancelled
		}
		return &StageError{Stage: StateUploading, Err: fmt.Errorf("%w: %w", ErrUpload, err)}
	}
	r.stageDone(progress.StageUploading, float64(stats.OutputBytes))

	return r.advance(ctx, StateSucceeded)
}

func (r *run) transcode(ctx context.Context, info media.Info) (media.OutputStats, error) {
	// Waiting for a slot is a blocking point like any other; a cancel
	// request releases it.
	if err := r.p.transcodes.Acquire(ctx, 1); err != nil {
		return media.OutputStats{}, ErrCancelled
	}
	defer r.p.transcodes.Release(1)

	if r.cancelled(ctx) {
		return media.OutputStats{}, ErrCancelled
	}

	store := r.p.deps.Store
	began := r.p.now()
	stats, err := r.p.deps.Transcoder.Transcode(ctx, media.TranscodeRequest{
		InputPath:    r.inputPath,
		OutputPath:   r.outputPath,
		Preset:       r.preset,
		DurationHint: info.Duration,
	}, func(pg media.Progress) {
		if store.CancelRequested(ctx, r.jobID) {
			r.cancel(ErrCancelled)
			return
		}
		_ = store.UpdateProgress(ctx, r.jobID, pg.Percent)
		r.reporter.Report(progress.Event{
			JobID:         r.jobID,
			Stage:         progress.StageTranscoding,
			Percent:       pg.Percent,
			Processed:     pg.Elapsed.Seconds(),
			Total:         info.Duration,
			Indeterminate: pg.Indeterminate,
			Done:          pg.Done,
		})
	})
	r.summary.TranscodeTime = r.p.now().Sub(began)

	if err != nil {
		if errors.Is(err, media.ErrCancelled) || r.cancelled(ctx) {
			return media.OutputStats{}, ErrCancelled
		}
		return media.OutputStats{}, &StageError{Stage: StateTranscoding, Err: err}
	}
	r.logger.Info("transcode finished",
		slog.Int64("input_bytes", stats.InputBytes),
		slog.Int64("output_bytes", stats.OutputBytes),
		slog.Float64("reduction_percent", stats.ReductionPercent),
		slog.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

// archiveOutput is best-effort: a failed archive never fails the job.
func (r *run) archiveOutput(ctx context.Context) {
	if r.p.archive == nil {
		return
	}
	key := fmt.Sprintf("%d/%s%s", r.req.UserID, r.jobID, r.preset.Extension())
	url, err := r.p.archive.Archive(ctx, r.outputPath, key)
	if err != nil {
		r.logger.Warn("archive failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	r.summary.ArchiveURL = url
}

// advance is the cancellation checkpoint between stages. A delivered
// result is not turned into a cancellation after the fact.
func (r *run) advance(ctx context.Context, next State) error {
	if next != StateSucceeded && r.cancelled(ctx) {
		return ErrCancelled
	}
	if err := r.p.deps.Store.UpdateState(ctx, r.jobID, next); err != nil {
		return &StageError{Stage: r.state, Err: err}
	}
	r.state = next
	r.mark(ctx)
	r.logger.Info("job stage changed", slog.String("state", string(next)))

	if stage, ok := progressStage(next); ok {
		r.reporter.Report(progress.Event{
			JobID:         r.jobID,
			Stage:         stage,
			Indeterminate: next == StateProbing,
		})
	}
	return nil
}

func (r *run) transferProgress(ctx context.Context, stage progress.Stage) TransferFunc {
	return func(current, total int64) {
		e := progress.Event{
			JobID:     r.jobID,
			Stage:     stage,
			Processed: float64(current),
			Total:     float64(total),
		}
		if total > 0 {
			e.Percent = min(100, float64(current)/float64(total)*100)
		} else {
			e.Indeterminate = true
		}
		_ = r.p.deps.Store.UpdateProgress(ctx, r.jobID, e.Percent)
		r.reporter.Report(e)
	}
}

func (r *run) stageDone(stage progress.Stage, total float64) {
	r.reporter.Report(progress.Event{
		JobID:     r.jobID,
		Stage:     stage,
		Percent:   100,
		Processed: total,
		Total:     total,
		Done:      true,
	})
}

// cancelled reports whether the job was flagged or its context ended.
func (r *run) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || r.p.deps.Store.CancelRequested(ctx, r.jobID)
}

func (r *run) mark(ctx context.Context) {
	err := r.p.journal.Mark(ctx, Marker{
		JobID:      r.jobID,
		UserID:     r.req.UserID,
		State:      r.state,
		InputPath:  r.inputPath,
		OutputPath: r.outputPath,
		UpdatedAt:  r.p.now(),
	})
	if err != nil {
		r.logger.Warn("journal mark failed", slog.String("error", err.Error()))
	}
}

// finish moves the job to its terminal state and reclaims everything it
// owns. It runs on a context detached from cancellation so cleanup always
// completes.
func (r *run) finish(parent context.Context, runErr error) (Summary, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), finalizeTimeout)
	defer cancel()
	store := r.p.deps.Store

	switch {
	case runErr == nil:
		r.summary.State = StateSucceeded
	case errors.Is(runErr, ErrCancelled):
		r.summary.State = StateCancelled
		if err := store.UpdateState(ctx, r.jobID, StateCancelled); err != nil {
			r.logger.Error("cancel transition failed", slog.String("error", err.Error()))
		}
		r.logger.Info("job cancelled", slog.String("state", string(r.state)))
	default:
		r.summary.State = StateFailed
		if err := store.Fail(ctx, r.jobID, runErr.Error()); err != nil {
			r.logger.Error("fail transition failed", slog.String("error", err.Error()))
		}
		r.logger.Error("job failed", slog.String("error", runErr.Error()))
	}

	if err := r.reporter.Close(ctx); err != nil {
		r.logger.Warn("progress flush incomplete", slog.String("error", err.Error()))
	}

	if err := r.p.deps.Workspace.Release(r.inputPath, r.outputPath); err != nil {
		r.logger.Warn("temp file cleanup failed", slog.String("error", err.Error()))
	}
	if err := r.p.journal.Clear(ctx, r.jobID); err != nil {
		r.logger.Warn("journal clear failed", slog.String("error", err.Error()))
	}
	if err := store.Remove(ctx, r.jobID); err != nil {
		r.logger.Error("job removal failed", slog.String("error", err.Error()))
	}

	r.summary.Duration = r.p.now().Sub(r.start)
	r.logger.Info("job finished",
		slog.String("state", string(r.summary.State)),
		slog.Duration("duration", r.summary.Duration),
	)

	if runErr != nil && r.summary.State == StateCancelled {
		return r.summary, ErrCancelled
	}
	return r.summary, runErr
}

func progressStage(s State) (progress.Stage, bool) {
	switch s {
	case StateDownloading:
		return progress.StageDownloading, true
	case StateProbing:
		return progress.StageProbing, true
	case StateTranscoding:
		return progress.StageTranscoding, true
	case StateUploading:
		return progress.StageUploading, true
	default:
		return "", false
	}
}

// inputExt keeps the source extension so the prober can use it as a hint.
func inputExt(src SourceRef) string {
	ext := strings.ToLower(filepath.Ext(src.FileName))
	if ext == "" || len(ext) > 6 || strings.ContainsAny(ext, `/\`) {
		return defaultInputExt
	}
	return ext
}
