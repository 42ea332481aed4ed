package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidcompress/internal/config"
	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/storage"
)

type nopAPI struct{}

func (nopAPI) Send(tgbotapi.Chattable) (tgbotapi.Message, error) { return tgbotapi.Message{}, nil }
func (nopAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}
func (nopAPI) GetFile(tgbotapi.FileConfig) (tgbotapi.File, error) { return tgbotapi.File{}, nil }

// fakeTool writes an executable that answers -version like ffmpeg does.
func fakeTool(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\necho \"" + name + " version 7.1-test Copyright (c) the FFmpeg developers\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BotToken:                "123:abc",
		TempDir:                 t.TempDir(),
		JournalBackend:          config.JournalFile,
		MaxConcurrentTranscodes: 2,
		MaxVideoSizeMB:          100,
		TelegramRatePerSec:      1,
		FFmpegPath:              fakeTool(t, "ffmpeg"),
		FFprobePath:             fakeTool(t, "ffprobe"),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_Defaults(t *testing.T) {
	cfg := testConfig(t)

	host := func(context.Context) (hoststats.Snapshot, error) {
		return hoststats.Snapshot{CPUPercent: 12.5, DiskPath: cfg.TempDir}, nil
	}

	deps, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger(),
		WithVersion("1.2.3"),
		WithHostStats(host),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	require.NotNil(t, deps.Pipeline)
	require.NotNil(t, deps.Bot)
	assert.Len(t, deps.Pipeline.Catalog().List(), 4)
	assert.DirExists(t, cfg.JournalDir())

	rec := httptest.NewRecorder()
	deps.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"temp_files":0`)
	assert.Contains(t, rec.Body.String(), `"cpu_percent":12.5`)

	rec = httptest.NewRecorder()
	deps.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.2.3"`)
}

func TestNewDependencies_MissingTool(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "ffmpeg",
			mutate: func(c *config.Config) { c.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg") },
			want:   "check ffmpeg",
		},
		{
			name:   "ffprobe",
			mutate: func(c *config.Config) { c.FFprobePath = filepath.Join(t.TempDir(), "no-ffprobe") },
			want:   "check ffprobe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			_, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger())
			require.Error(t, err)
			assert.ErrorIs(t, err, media.ErrToolUnavailable)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewDependencies_SweepsOldFilesWithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalBackend = config.JournalNone
	cfg.StaleFileMaxAge = time.Hour

	old := filepath.Join(cfg.TempDir, "job-01old_input.mp4")
	fresh := filepath.Join(cfg.TempDir, "job-01new_input.mp4")
	require.NoError(t, os.WriteFile(old, []byte("stale"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("live"), 0o600))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	deps, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestNewDependencies_SweepsJournaledFiles(t *testing.T) {
	cfg := testConfig(t)
	leftover := filepath.Join(cfg.TempDir, "job-01hzz_input.mp4")
	require.NoError(t, os.WriteFile(leftover, []byte("partial"), 0o600))

	j, err := storage.NewFileJournal(cfg.JournalDir())
	require.NoError(t, err)
	require.NoError(t, j.Mark(context.Background(), job.Marker{
		JobID:     "job-01hzz",
		UserID:    9,
		State:     job.StateDownloading,
		InputPath: leftover,
	}))

	deps, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.NoFileExists(t, leftover)
	markers, err := j.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestNewDependencies_PresetsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.JournalBackend = config.JournalNone
	cfg.PresetsFile = filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(cfg.PresetsFile, []byte(`
- key: voice
  displayName: Voice
  audioBitrateKbps: 48
  container: m4a
  estimatedSizeRatio: 0.05
`), 0o600))

	deps, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger())
	require.NoError(t, err)

	list := deps.Pipeline.Catalog().List()
	require.Len(t, list, 1)
	assert.Equal(t, "voice", list[0].Key)
	assert.NoDirExists(t, cfg.JournalDir())
}

func TestNewDependencies_BadPresetsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.PresetsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewDependencies(context.Background(), cfg, nopAPI{}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presets file")
}
