// Package media wraps the external ffprobe and ffmpeg executables: probing a
// source for duration and stream metadata, and transcoding it with a preset
// while reporting normalized progress.
package media

import (
	"context"
	"time"

	"github.com/maauso/vidcompress/internal/preset"
)

// Info is the subset of ffprobe output the pipeline needs.
type Info struct {
	// Duration is in seconds. Zero means the container carries no duration
	// and progress percentages are unavailable.
	Duration   float64
	Width      int
	Height     int
	SizeBytes  int64
	BitRate    int64
	FormatName string
	HasVideo   bool
	HasAudio   bool
}

// Prober extracts media metadata from a file.
type Prober interface {
	// Probe runs the external prober synchronously with a bounded timeout.
	// Failures wrap ErrProbeFailed.
	Probe(ctx context.Context, path string) (Info, error)
}

// TranscodeRequest describes one encoder invocation.
type TranscodeRequest struct {
	InputPath  string
	OutputPath string
	Preset     preset.Preset
	// DurationHint is the source duration in seconds; zero when unknown.
	DurationHint float64
}

// Progress is one normalized encoder progress tick.
type Progress struct {
	// Percent is in [0,100] and never decreases within a run. It is zero
	// when Indeterminate is set.
	Percent float64
	// Elapsed is the position reached in the source timeline.
	Elapsed time.Duration
	// Indeterminate is set when the source duration is unknown; callers
	// should render a spinner rather than a bar.
	Indeterminate bool
	// Done marks the encoder's final progress block.
	Done bool
}

// ProgressFunc receives progress ticks on the transcoding goroutine.
type ProgressFunc func(Progress)

// OutputStats summarizes a successful transcode.
type OutputStats struct {
	InputBytes       int64
	OutputBytes      int64
	Elapsed          time.Duration
	ReductionPercent float64
}

// Transcoder runs the external encoder for a single input/output pair.
type Transcoder interface {
	// Transcode encodes req.InputPath into req.OutputPath. Cancelling ctx
	// terminates the encoder process and yields ErrCancelled. Other failures
	// are *TranscodeError.
	Transcode(ctx context.Context, req TranscodeRequest, onProgress ProgressFunc) (OutputStats, error)
}
