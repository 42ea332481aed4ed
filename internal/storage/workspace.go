package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/vidcompress/internal/job"
)

// Compile-time check that Workspace implements job.Workspace.
var _ job.Workspace = (*Workspace)(nil)

// jobFilePrefix is shared by every generated job ID and therefore by every
// file the workspace allocates.
const jobFilePrefix = "job-"

// Workspace allocates per-job temp files under a single directory.
// File names embed the job ID, so two jobs never share a path.
type Workspace struct {
	dir string
}

// NewWorkspace creates a Workspace rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "compressed_videos")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp directory: %w", err)
	}
	return &Workspace{dir: abs}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Allocate returns the input and output paths for jobID. No file is
// created; the downloader and encoder create them.
func (w *Workspace) Allocate(jobID, inputExt, outputExt string) (string, string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID != filepath.Base(jobID) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	in := filepath.Join(w.dir, jobID+"_input"+inputExt)
	out := filepath.Join(w.dir, jobID+"_output"+outputExt)
	return in, out, nil
}

// Release removes the given files. Empty and missing paths are skipped, so
// calling it twice is harmless. It continues past failures and returns the
// first error encountered.
func (w *Workspace) Release(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !w.contains(p) {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", ErrOutsideWorkspace, p)
			}
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// CountFiles returns the number of regular files in the workspace.
func (w *Workspace) CountFiles() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}

// Sweep reclaims files abandoned by a previous process: every file named
// by a journal marker, and any job file older than maxAge. Markers are
// cleared once their files are gone. It returns the number of files removed.
// Call it before accepting jobs.
func (w *Workspace) Sweep(ctx context.Context, journal MarkerStore, maxAge time.Duration, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	removed := 0

	if journal != nil {
		markers, err := journal.List(ctx)
		if err != nil {
			return 0, fmt.Errorf("list journal: %w", err)
		}
		for _, m := range markers {
			for _, p := range []string{m.InputPath, m.OutputPath} {
				if p == "" || !w.contains(p) {
					continue
				}
				if err := os.Remove(p); err == nil {
					removed++
				} else if !errors.Is(err, os.ErrNotExist) {
					logger.Warn("sweep: remove failed", slog.String("path", p), slog.String("error", err.Error()))
				}
			}
			if err := journal.Clear(ctx, m.JobID); err != nil {
				logger.Warn("sweep: clear marker failed", slog.String("job_id", m.JobID), slog.String("error", err.Error()))
				continue
			}
			logger.Info("sweep: reclaimed abandoned job",
				slog.String("job_id", m.JobID),
				slog.Int64("user_id", m.UserID),
				slog.String("state", string(m.State)),
			)
		}
	}

	if maxAge <= 0 {
		return removed, nil
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return removed, fmt.Errorf("read temp directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), jobFilePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (w *Workspace) contains(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.dir, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
