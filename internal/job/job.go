// Package job provides the Job aggregate, the single-flight JobStore and the
// CompressionPipeline that moves a submitted file through the download,
// probe, transcode and upload stages.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/vidcompress/internal/job/id"
)

// State represents the current stage of a Job.
type State string

const (
	// StateQueued indicates the job was accepted and has not started yet.
	StateQueued State = "QUEUED"
	// StateDownloading indicates the source file is being fetched.
	StateDownloading State = "DOWNLOADING"
	// StateProbing indicates the source is being inspected for metadata.
	StateProbing State = "PROBING"
	// StateTranscoding indicates the encoder is running.
	StateTranscoding State = "TRANSCODING"
	// StateUploading indicates the result is being delivered.
	StateUploading State = "UPLOADING"
	// StateSucceeded indicates the result was delivered.
	StateSucceeded State = "SUCCEEDED"
	// StateFailed indicates a stage failed.
	StateFailed State = "FAILED"
	// StateCancelled indicates the user cancelled the job.
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. Every
// non-terminal state may fail or be cancelled.
var validTransitions = map[State][]State{
	StateQueued:      {StateDownloading, StateFailed, StateCancelled},
	StateDownloading: {StateProbing, StateFailed, StateCancelled},
	StateProbing:     {StateTranscoding, StateFailed, StateCancelled},
	StateTranscoding: {StateUploading, StateFailed, StateCancelled},
	StateUploading:   {StateSucceeded, StateFailed, StateCancelled},
	StateSucceeded:   {},
	StateFailed:      {},
	StateCancelled:   {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourceRef is the opaque handle to the chat message carrying the source
// file. The pipeline passes it through to the downloader and uploader.
type SourceRef struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int    `json:"message_id"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Job represents one user's in-flight compression request.
// Only the store mutates a Job; everyone else sees View snapshots.
type Job struct {
	mu sync.RWMutex

	ID        string
	UserID    int64
	Source    SourceRef
	PresetKey string
	State     State
	// InputPath and OutputPath are empty until the workspace allocates them.
	InputPath  string
	OutputPath string
	InputBytes int64
	// LastProgressPercent resets to zero on every state change.
	LastProgressPercent float64
	CancelRequested     bool
	// Error contains the failure message once the job has failed.
	Error string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// View is an immutable snapshot of a Job.
type View struct {
	ID                  string    `json:"id"`
	UserID              int64     `json:"user_id"`
	Source              SourceRef `json:"source"`
	PresetKey           string    `json:"preset"`
	State               State     `json:"state"`
	InputPath           string    `json:"input_path,omitempty"`
	OutputPath          string    `json:"output_path,omitempty"`
	InputBytes          int64     `json:"input_bytes,omitempty"`
	LastProgressPercent float64   `json:"progress"`
	CancelRequested     bool      `json:"cancel_requested"`
	Error               string    `json:"error,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	StartedAt           time.Time `json:"started_at,omitzero"`
	CompletedAt         time.Time `json:"completed_at,omitzero"`
}

// New creates a Queued job with a generated ID.
func New(userID int64, src SourceRef, presetKey string) *Job {
	return NewWithID(id.Generate(), userID, src, presetKey)
}

// NewWithID creates a Queued job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, userID int64, src SourceRef, presetKey string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		UserID:    userID,
		Source:    src,
		PresetKey: presetKey,
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
		cancelled: make(chan struct{}),
	}
}

// TransitionTo attempts to change the job state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(state State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(state)
}

// Fail transitions the job to FAILED with an error message.
// Returns ErrInvalidTransition if the job is already terminal.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StateFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

func (j *Job) transitionLocked(state State) error {
	if !canTransition(j.State, state) {
		return ErrInvalidTransition
	}

	j.State = state
	j.LastProgressPercent = 0
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch {
	case state == StateDownloading:
		j.StartedAt = j.UpdatedAt
	case state.IsTerminal():
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// GetState returns the current job state (thread-safe).
func (j *Job) GetState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetState().IsTerminal()
}

// UpdateProgress records the stage progress, clamped to [0,100]. Values
// lower than the last recorded one are ignored.
func (j *Job) UpdateProgress(percent float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < j.LastProgressPercent {
		return
	}
	j.LastProgressPercent = percent
	j.UpdatedAt = time.Now()
}

// SetPaths records the temp file locations owned by the job.
func (j *Job) SetPaths(inputPath, outputPath string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.InputPath = inputPath
	j.OutputPath = outputPath
	j.UpdatedAt = time.Now()
}

// SetInputBytes records the downloaded source size.
func (j *Job) SetInputBytes(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.InputBytes = n
	j.UpdatedAt = time.Now()
}

// RequestCancel sets the cancel flag and closes the Cancelled channel.
// Calling it more than once is safe.
func (j *Job) RequestCancel() {
	j.mu.Lock()
	j.CancelRequested = true
	j.UpdatedAt = time.Now()
	j.mu.Unlock()
	j.cancelOnce.Do(func() { close(j.cancelled) })
}

// IsCancelRequested reports whether cancellation was requested.
func (j *Job) IsCancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.CancelRequested
}

// Cancelled returns a channel closed once cancellation is requested.
func (j *Job) Cancelled() <-chan struct{} {
	return j.cancelled
}

// View returns a snapshot of the job for safe reads.
func (j *Job) View() View {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return View{
		ID:                  j.ID,
		UserID:              j.UserID,
		Source:              j.Source,
		PresetKey:           j.PresetKey,
		State:               j.State,
		InputPath:           j.InputPath,
		OutputPath:          j.OutputPath,
		InputBytes:          j.InputBytes,
		LastProgressPercent: j.LastProgressPercent,
		CancelRequested:     j.CancelRequested,
		Error:               j.Error,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
		StartedAt:           j.StartedAt,
		CompletedAt:         j.CompletedAt,
	}
}
