package telegram

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/vidcompress/internal/job"
)

// Compile-time check that Uploader implements job.Uploader.
var _ job.Uploader = (*Uploader)(nil)

// Uploader sends the compressed file back as a reply to the source message.
type Uploader struct {
	api API
}

// NewUploader creates an Uploader.
func NewUploader(api API) *Uploader {
	return &Uploader{api: api}
}

// Upload implements job.Uploader. Audio presets are sent as audio, all
// others as streamable video.
func (u *Uploader) Upload(ctx context.Context, dest job.SourceRef, path string, meta job.UploadMetadata, onProgress job.TransferFunc) error {
	f, err := os.Open(path) // #nosec G304 - path is allocated by the workspace
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}

	file := tgbotapi.FileReader{
		Name:   outputName(dest, meta),
		Reader: &progressReader{ctx: ctx, r: f, total: info.Size(), onProgress: onProgress},
	}
	caption := Caption(meta)

	var msg tgbotapi.Chattable
	if meta.Preset.AudioOnly() {
		cfg := tgbotapi.NewAudio(dest.ChatID, file)
		cfg.Caption = caption
		cfg.ParseMode = tgbotapi.ModeHTML
		cfg.Duration = int(meta.Media.Duration)
		cfg.ReplyToMessageID = dest.MessageID
		msg = cfg
	} else {
		cfg := tgbotapi.NewVideo(dest.ChatID, file)
		cfg.Caption = caption
		cfg.ParseMode = tgbotapi.ModeHTML
		cfg.SupportsStreaming = true
		cfg.Duration = int(meta.Media.Duration)
		cfg.ReplyToMessageID = dest.MessageID
		msg = cfg
	}

	if _, err := u.api.Send(msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

// outputName derives the uploaded file name from the source name.
func outputName(src job.SourceRef, meta job.UploadMetadata) string {
	base := "video"
	if src.FileName != "" {
		base = src.FileName[:len(src.FileName)-len(filepath.Ext(src.FileName))]
	}
	return fmt.Sprintf("%s_%s%s", base, meta.Preset.Key, meta.Preset.Extension())
}

// progressReader reports upload progress and aborts on cancellation at
// every chunk boundary.
type progressReader struct {
	ctx        context.Context
	r          io.Reader
	read       int64
	total      int64
	onProgress job.TransferFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 && p.onProgress != nil {
		p.onProgress(p.read, p.total)
	}
	return n, err
}
