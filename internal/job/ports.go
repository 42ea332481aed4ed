package job

import (
	"context"
	"time"

	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/preset"
)

// TransferFunc receives byte progress from a Downloader or Uploader. total
// is zero when the size is unknown.
type TransferFunc func(current, total int64)

// Downloader fetches the source file referenced by src into destPath.
// It must write the complete file or fail; partial files are removed by
// the pipeline. Cancelling ctx must abort the transfer.
type Downloader interface {
	Download(ctx context.Context, src SourceRef, destPath string, onProgress TransferFunc) error
}

// UploadMetadata describes the compressed result handed to the Uploader.
type UploadMetadata struct {
	JobID            string
	Preset           preset.Preset
	Media            media.Info
	InputBytes       int64
	OutputBytes      int64
	ReductionPercent float64
	// Elapsed is the wall time from job start to the end of transcoding.
	Elapsed time.Duration
	// ArchiveURL is set when the output was also archived.
	ArchiveURL string
}

// Uploader delivers the file at path back to the chat referenced by dest.
type Uploader interface {
	Upload(ctx context.Context, dest SourceRef, path string, meta UploadMetadata, onProgress TransferFunc) error
}

// Workspace allocates and reclaims per-job temp files.
type Workspace interface {
	// Allocate returns unique input and output paths namespaced by jobID.
	Allocate(jobID, inputExt, outputExt string) (inputPath, outputPath string, err error)
	// Release deletes the given files. Missing files are not an error.
	Release(paths ...string) error
}

// Marker is a write-ahead record of a running job's temp files, used to
// reclaim them after a crash.
type Marker struct {
	JobID      string    `json:"job_id"`
	UserID     int64     `json:"user_id"`
	State      State     `json:"state"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Journal persists Markers for running jobs.
type Journal interface {
	Mark(ctx context.Context, m Marker) error
	Clear(ctx context.Context, jobID string) error
}

// Archive keeps a copy of a compressed output and returns its URL.
type Archive interface {
	Archive(ctx context.Context, localPath, key string) (string, error)
}

type noopJournal struct{}

func (noopJournal) Mark(context.Context, Marker) error  { return nil }
func (noopJournal) Clear(context.Context, string) error { return nil }
