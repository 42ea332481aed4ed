package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maauso/vidcompress/internal/job"
)

var _ MarkerStore = (*FileJournal)(nil)

const markerExt = ".json"

// FileJournal stores one JSON marker file per running job.
type FileJournal struct {
	dir string
}

// NewFileJournal creates a FileJournal in dir, creating it if needed.
func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &FileJournal{dir: dir}, nil
}

// Mark writes m, replacing any previous marker for the job. The write goes
// through a temp file and rename so a crash never leaves half a marker.
func (j *FileJournal) Mark(ctx context.Context, m job.Marker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := j.path(m.JobID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}

	f, err := os.CreateTemp(j.dir, ".marker_*")
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit marker: %w", err)
	}
	return nil
}

// Clear removes the job's marker. A missing marker is not an error.
func (j *FileJournal) Clear(_ context.Context, jobID string) error {
	path, err := j.path(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// List returns every stored marker. Unreadable markers are skipped.
func (j *FileJournal) List(_ context.Context) ([]job.Marker, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("read journal directory: %w", err)
	}
	var markers []job.Marker
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), markerExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(j.dir, e.Name())) // #nosec G304 - name comes from the journal directory listing
		if err != nil {
			continue
		}
		var m job.Marker
		if err := json.Unmarshal(data, &m); err != nil || m.JobID == "" {
			continue
		}
		markers = append(markers, m)
	}
	return markers, nil
}

func (j *FileJournal) path(jobID string) (string, error) {
	if jobID == "" || jobID != filepath.Base(jobID) || strings.HasPrefix(jobID, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return filepath.Join(j.dir, jobID+markerExt), nil
}
