package media

import (
	"errors"
	"fmt"
)

// Static errors for media operations.
var (
	// ErrProbeFailed is returned when ffprobe exits non-zero, times out, or
	// produces output that cannot be parsed.
	ErrProbeFailed = errors.New("probe failed")
	// ErrTranscodeFailed matches every *TranscodeError via errors.Is.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrCancelled is returned when the encoder was terminated because the
	// caller cancelled the context.
	ErrCancelled = errors.New("transcode cancelled")
	// ErrInvalidRequest is returned for empty input or output paths.
	ErrInvalidRequest = errors.New("invalid transcode request")
)

// FailureReason classifies a TranscodeError.
type FailureReason string

const (
	// ReasonNonZeroExit means the encoder exited with a non-zero status.
	ReasonNonZeroExit FailureReason = "nonzero_exit"
	// ReasonTimeout means the encoder exceeded its wall-clock budget.
	ReasonTimeout FailureReason = "timeout"
	// ReasonEmptyOutput means the encoder succeeded but the output file is
	// missing or zero bytes.
	ReasonEmptyOutput FailureReason = "empty_output"
	// ReasonSpawn means the encoder process could not be started.
	ReasonSpawn FailureReason = "spawn"
)

// TranscodeError represents a failed ffmpeg run, including the tail of its
// stderr output.
type TranscodeError struct {
	Reason FailureReason
	Args   []string
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("ffmpeg %s", e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// Is makes every TranscodeError match ErrTranscodeFailed.
func (e *TranscodeError) Is(target error) bool {
	return target == ErrTranscodeFailed
}

// TimedOut reports whether err is a TranscodeError caused by the time budget.
func TimedOut(err error) bool {
	var te *TranscodeError
	return errors.As(err, &te) && te.Reason == ReasonTimeout
}
