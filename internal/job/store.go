package job

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrAlreadyActive is returned by TryCreate when the user already has a
	// non-terminal job. It is a policy rejection, not a fault.
	ErrAlreadyActive = errors.New("user already has an active job")
	// ErrNotFound is returned when no job matches the user or job ID.
	ErrNotFound = errors.New("job not found")
	// ErrNotTerminal is returned by Remove for a job that is still running.
	ErrNotTerminal = errors.New("job is not in a terminal state")
)

// Store is the registry of active jobs, holding at most one non-terminal
// job per user. It acts as a port in the hexagonal architecture pattern.
type Store interface {
	// TryCreate atomically checks for a non-terminal job owned by userID and
	// creates a Queued job if there is none. Returns ErrAlreadyActive otherwise.
	TryCreate(ctx context.Context, userID int64, src SourceRef, presetKey string) (View, error)

	// Get returns the user's current job, if any.
	Get(ctx context.Context, userID int64) (View, bool)

	// GetByID retrieves a job by its unique identifier.
	// Returns ErrNotFound if the job does not exist.
	GetByID(ctx context.Context, jobID string) (View, error)

	// List returns snapshots of all jobs.
	List(ctx context.Context) []View

	// UpdateState transitions the job. Returns ErrInvalidTransition for
	// transitions the state machine forbids.
	UpdateState(ctx context.Context, jobID string, state State) error

	// Fail transitions the job to Failed and records the reason.
	Fail(ctx context.Context, jobID string, reason string) error

	// UpdateProgress records the current stage percentage.
	UpdateProgress(ctx context.Context, jobID string, percent float64) error

	// SetPaths records the job's temp file paths.
	SetPaths(ctx context.Context, jobID, inputPath, outputPath string) error

	// SetInputBytes records the downloaded source size.
	SetInputBytes(ctx context.Context, jobID string, n int64) error

	// RequestCancel flags the user's running job for cancellation. It does
	// not stop anything itself. Returns ErrNotFound when the user has no
	// non-terminal job.
	RequestCancel(ctx context.Context, userID int64) error

	// CancelRequested reports whether the job has been flagged.
	CancelRequested(ctx context.Context, jobID string) bool

	// Cancelled returns a channel closed when the job is flagged, for
	// stages blocked on I/O or a pool slot.
	Cancelled(ctx context.Context, jobID string) (<-chan struct{}, error)

	// Remove deletes a terminal job. Returns ErrNotTerminal for running jobs.
	Remove(ctx context.Context, jobID string) error
}
