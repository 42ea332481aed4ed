package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/maauso/vidcompress/internal/preset"
	"github.com/maauso/vidcompress/internal/sizefmt"
)

// errBudgetExceeded is the context cause set when MaxDuration elapses.
var errBudgetExceeded = errors.New("encoder time budget exceeded")

// defaultStderrTail bounds how much encoder stderr is kept for error reports.
const defaultStderrTail = 500

// FFmpeg implements Transcoder using the ffmpeg CLI.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath  string
	threads     int
	maxDuration time.Duration
	stderrTail  int
	logger      *slog.Logger
}

// FFmpegOption configures an FFmpeg transcoder.
type FFmpegOption func(*FFmpeg)

// WithThreads limits encoder threads. Zero lets ffmpeg decide.
func WithThreads(n int) FFmpegOption {
	return func(f *FFmpeg) {
		if n >= 0 {
			f.threads = n
		}
	}
}

// WithMaxDuration sets the wall-clock budget for one transcode. Zero
// disables the budget.
func WithMaxDuration(d time.Duration) FFmpegOption {
	return func(f *FFmpeg) {
		if d >= 0 {
			f.maxDuration = d
		}
	}
}

// WithStderrTail sets how many trailing bytes of stderr are kept.
func WithStderrTail(n int) FFmpegOption {
	return func(f *FFmpeg) {
		if n > 0 {
			f.stderrTail = n
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(l *slog.Logger) FFmpegOption {
	return func(f *FFmpeg) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFFmpeg creates a new FFmpeg transcoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpeg(ffmpegPath string, opts ...FFmpegOption) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	f := &FFmpeg{
		ffmpegPath: ffmpegPath,
		stderrTail: defaultStderrTail,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ Transcoder = (*FFmpeg)(nil)

// BuildArgs returns the ffmpeg argument list for req. Quality factor and
// bitrates are passed through exactly as configured on the preset.
func (f *FFmpeg) BuildArgs(req TranscodeRequest) []string {
	p := req.Preset
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", req.InputPath,
	}

	if p.AudioOnly() {
		args = append(args, "-vn")
	} else {
		args = append(args, "-c:v", "libx264")
		if p.QualityFactor != nil {
			args = append(args, "-crf", strconv.Itoa(*p.QualityFactor))
		}
		if p.SpeedProfile != "" {
			args = append(args, "-preset", p.SpeedProfile)
		}
		if p.MaxVideoBitrateKbps > 0 {
			args = append(args,
				"-maxrate", fmt.Sprintf("%dk", p.MaxVideoBitrateKbps),
				"-bufsize", fmt.Sprintf("%dk", p.MaxVideoBitrateKbps*2),
			)
		}
		if r := p.TargetResolution; r != nil {
			args = append(args, "-vf", scaleFilter(*r))
		}
		args = append(args, "-pix_fmt", "yuv420p")
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", p.AudioBitrateKbps),
	)
	if p.Container == "mp4" || p.Container == "m4a" {
		args = append(args, "-movflags", "+faststart")
	}
	if f.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(f.threads))
	}

	// Machine-readable progress on stdout, one key=value per line.
	args = append(args, "-progress", "pipe:1", "-nostats", req.OutputPath)
	return args
}

// scaleFilter caps the width without upscaling narrower sources. Heights
// of zero keep the aspect ratio, rounded to an even number of lines.
func scaleFilter(r preset.Resolution) string {
	h := "-2"
	if r.Height > 0 {
		h = fmt.Sprintf("'min(%d,ih)'", r.Height)
	}
	return fmt.Sprintf("scale='min(%d,iw)':%s", r.Width, h)
}

// Transcode runs ffmpeg for req, streaming progress to onProgress.
func (f *FFmpeg) Transcode(ctx context.Context, req TranscodeRequest, onProgress ProgressFunc) (OutputStats, error) {
	if req.InputPath == "" || req.OutputPath == "" {
		return OutputStats{}, ErrInvalidRequest
	}

	inInfo, err := os.Stat(req.InputPath)
	if err != nil {
		return OutputStats{}, &TranscodeError{Reason: ReasonSpawn, Err: fmt.Errorf("stat input: %w", err)}
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if f.maxDuration > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, f.maxDuration, errBudgetExceeded)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	args := f.BuildArgs(req)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, f.ffmpegPath, args...)
	// Bounded wait for pipes after the process is killed.
	cmd.WaitDelay = 2 * time.Second

	stderr := newTailBuffer(f.stderrTail)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return OutputStats{}, &TranscodeError{Reason: ReasonSpawn, Args: args, Err: err}
	}

	f.logger.Debug("starting ffmpeg",
		slog.String("input", req.InputPath),
		slog.String("output", req.OutputPath),
		slog.String("preset", req.Preset.Key),
		slog.Float64("duration_hint", req.DurationHint),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return OutputStats{}, &TranscodeError{Reason: ReasonSpawn, Args: args, Err: err}
	}

	tracker := newProgressTracker(req.DurationHint)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if p, ok := tracker.feed(scanner.Text()); ok && onProgress != nil {
			onProgress(p)
		}
	}
	// Keep draining so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return OutputStats{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if errors.Is(context.Cause(runCtx), errBudgetExceeded) {
		return OutputStats{}, &TranscodeError{
			Reason: ReasonTimeout,
			Args:   args,
			Stderr: stderr.String(),
			Err:    fmt.Errorf("timed out after %s", f.maxDuration),
		}
	}
	if waitErr != nil {
		return OutputStats{}, &TranscodeError{
			Reason: ReasonNonZeroExit,
			Args:   args,
			Stderr: stderr.String(),
			Err:    waitErr,
		}
	}

	outInfo, err := os.Stat(req.OutputPath)
	if err != nil || outInfo.Size() == 0 {
		if err == nil {
			err = errors.New("output file is empty")
		}
		return OutputStats{}, &TranscodeError{
			Reason: ReasonEmptyOutput,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	if p, ok := tracker.finish(); ok && onProgress != nil {
		onProgress(p)
	}

	stats := OutputStats{
		InputBytes:       inInfo.Size(),
		OutputBytes:      outInfo.Size(),
		Elapsed:          elapsed,
		ReductionPercent: sizefmt.Reduction(inInfo.Size(), outInfo.Size()),
	}
	f.logger.Debug("ffmpeg finished",
		slog.String("output", req.OutputPath),
		slog.Int64("output_bytes", stats.OutputBytes),
		slog.Duration("elapsed", elapsed),
	)
	return stats, nil
}
