package telegram

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/preset"
)

func writeOutput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func mustPreset(t *testing.T, key string) preset.Preset {
	t.Helper()
	p, err := preset.Default().Get(key)
	require.NoError(t, err)
	return p
}

func TestUploader_SendsVideoReply(t *testing.T) {
	api := &fakeAPI{}
	u := NewUploader(api)
	path := writeOutput(t, "compressed")
	dest := job.SourceRef{ChatID: 42, MessageID: 7, FileName: "holiday.mov"}
	meta := job.UploadMetadata{
		Preset:           mustPreset(t, "balanced"),
		Media:            media.Info{Duration: 12.4},
		InputBytes:       100 << 20,
		OutputBytes:      35 << 20,
		ReductionPercent: 65,
		Elapsed:          90 * time.Second,
	}

	var last int64
	err := u.Upload(context.Background(), dest, path, meta, func(cur, _ int64) { last = cur })
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	cfg, ok := api.sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok, "expected a video upload, got %T", api.sent[0])
	assert.Equal(t, int64(42), cfg.ChatID)
	assert.Equal(t, 7, cfg.ReplyToMessageID)
	assert.True(t, cfg.SupportsStreaming)
	assert.Equal(t, 12, cfg.Duration)
	assert.Equal(t, tgbotapi.ModeHTML, cfg.ParseMode)
	assert.Contains(t, cfg.Caption, "100 MiB")
	assert.Contains(t, cfg.Caption, "35 MiB")

	fr, ok := cfg.File.(tgbotapi.FileReader)
	require.True(t, ok)
	assert.Equal(t, "holiday_balanced.mp4", fr.Name)
	assert.Equal(t, "compressed", string(api.uploaded))
	assert.Equal(t, int64(len("compressed")), last)
}

func TestUploader_SendsAudioForAudioPreset(t *testing.T) {
	api := &fakeAPI{}
	u := NewUploader(api)
	path := writeOutput(t, "aac")

	err := u.Upload(context.Background(), job.SourceRef{ChatID: 1}, path, job.UploadMetadata{Preset: mustPreset(t, "audio")}, nil)
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	cfg, ok := api.sent[0].(tgbotapi.AudioConfig)
	require.True(t, ok, "expected an audio upload, got %T", api.sent[0])
	fr, ok := cfg.File.(tgbotapi.FileReader)
	require.True(t, ok)
	assert.Equal(t, "video_audio.m4a", fr.Name)
}

func TestUploader_CancelledBeforeRead(t *testing.T) {
	api := &fakeAPI{}
	u := NewUploader(api)
	path := writeOutput(t, "compressed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := u.Upload(ctx, job.SourceRef{ChatID: 1}, path, job.UploadMetadata{Preset: mustPreset(t, "low")}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestUploader_MissingFile(t *testing.T) {
	u := NewUploader(&fakeAPI{})
	err := u.Upload(context.Background(), job.SourceRef{}, filepath.Join(t.TempDir(), "nope.mp4"), job.UploadMetadata{}, nil)
	require.Error(t, err)
}
