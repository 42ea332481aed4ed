package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/vidcompress/internal/job"
)

// ErrFileTooLarge is returned when the source exceeds the configured limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Compile-time check that Downloader implements job.Downloader.
var _ job.Downloader = (*Downloader)(nil)

// Downloader fetches chat files via getFile and the Bot API file endpoint.
// A local Bot API server returns absolute paths; those are copied directly.
type Downloader struct {
	api          API
	token        string
	fileEndpoint string
	client       *http.Client
	maxBytes     int64
}

// NewDownloader creates a Downloader. fileEndpoint is a format string taking
// the token and file path, e.g. tgbotapi.FileEndpoint. maxBytes of zero
// disables the size limit.
func NewDownloader(api API, token, fileEndpoint string, client *http.Client, maxBytes int64) *Downloader {
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		api:          api,
		token:        token,
		fileEndpoint: fileEndpoint,
		client:       client,
		maxBytes:     maxBytes,
	}
}

// Download implements job.Downloader.
func (d *Downloader) Download(ctx context.Context, src job.SourceRef, destPath string, onProgress job.TransferFunc) error {
	file, err := d.api.GetFile(tgbotapi.FileConfig{FileID: src.FileID})
	if err != nil {
		return fmt.Errorf("get file: %w", err)
	}

	total := int64(file.FileSize)
	if total == 0 {
		total = src.FileSize
	}
	if d.maxBytes > 0 && total > d.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, total)
	}

	var body io.ReadCloser
	if filepath.IsAbs(file.FilePath) {
		f, err := os.Open(file.FilePath) // #nosec G304 - path comes from the local Bot API server
		if err != nil {
			return fmt.Errorf("open local file: %w", err)
		}
		body = f
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(d.fileEndpoint, d.token, file.FilePath), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch file: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return fmt.Errorf("fetch file: unexpected status %d", resp.StatusCode)
		}
		if total == 0 && resp.ContentLength > 0 {
			total = resp.ContentLength
		}
		body = resp.Body
	}
	defer body.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 - path is allocated by the workspace
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	pw := &progressWriter{ctx: ctx, w: out, total: total, limit: d.maxBytes, onProgress: onProgress}
	if _, err := io.Copy(pw, body); err != nil {
		_ = out.Close()
		return fmt.Errorf("write destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	if total > 0 && pw.written != total {
		return fmt.Errorf("short download: got %d of %d bytes", pw.written, total)
	}
	return nil
}

// progressWriter counts bytes, reports progress and aborts on cancellation
// at every chunk boundary.
type progressWriter struct {
	ctx        context.Context
	w          io.Writer
	written    int64
	total      int64
	limit      int64
	onProgress job.TransferFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.limit > 0 && p.written > p.limit {
		return n, ErrFileTooLarge
	}
	if p.onProgress != nil {
		p.onProgress(p.written, p.total)
	}
	return n, err
}
