// Package progress throttles per-job progress ticks before they reach a
// slow downstream sink such as a chat message editor.
package progress

import (
	"context"
	"fmt"
	"strings"
)

// Stage names the pipeline stage an event belongs to.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageProbing     Stage = "probing"
	StageTranscoding Stage = "transcoding"
	StageUploading   Stage = "uploading"
)

// Event is a single progress update for one job.
type Event struct {
	JobID string
	Stage Stage
	// Percent is in [0,100] and non-decreasing within a stage. It is
	// meaningless when Indeterminate is set.
	Percent float64
	// Processed and Total are bytes for transfers and seconds of media for
	// transcoding. Total is zero when unknown.
	Processed float64
	Total     float64
	// Indeterminate means no percentage can be computed.
	Indeterminate bool
	// Done marks the last event of a stage.
	Done bool
}

// Sink receives throttled events. Implementations may be slow or fail;
// errors are logged by the Reporter and never surface to the pipeline.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Bar renders a fixed-width text progress bar, e.g. "[#####-----] 50%".
func Bar(percent float64, width int) string {
	if width <= 0 {
		width = 10
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return fmt.Sprintf("[%s%s] %.0f%%",
		strings.Repeat("#", filled),
		strings.Repeat("-", width-filled),
		percent,
	)
}
