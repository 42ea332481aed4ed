package job

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline errors. Probe and transcode failures keep the media package's
// errors (media.ErrProbeFailed, *media.TranscodeError).
var (
	// ErrDownload wraps any failure reported by the Downloader.
	ErrDownload = errors.New("download failed")
	// ErrUpload wraps any failure reported by the Uploader.
	ErrUpload = errors.New("upload failed")
	// ErrCancelled is returned by Run when the job ended in Cancelled. It
	// reports a normal terminal state, not a fault.
	ErrCancelled = errors.New("job cancelled")
)

// StageError records which stage a job failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", strings.ToLower(string(e.Stage)), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (State, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
