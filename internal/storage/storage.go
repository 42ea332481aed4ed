// Package storage holds everything the pipeline keeps outside process
// memory: per-job temp files in a Workspace, write-ahead job markers in a
// file or redis Journal, and an optional S3 archive of compressed outputs.
package storage

import (
	"context"
	"errors"

	"github.com/maauso/vidcompress/internal/job"
)

// Static errors for storage operations.
var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrOutsideWorkspace is returned when asked to delete a path that does
	// not belong to the workspace.
	ErrOutsideWorkspace = errors.New("path is outside the workspace")
	// ErrInvalidJobID is returned for job IDs that cannot name a file.
	ErrInvalidJobID = errors.New("invalid job id")
)

// MarkerStore is a job.Journal that can also enumerate its markers, which
// is what the startup sweep needs.
type MarkerStore interface {
	job.Journal
	List(ctx context.Context) ([]job.Marker, error)
}
