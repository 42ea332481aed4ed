// Package bootstrap wires the compression pipeline, the chat layer and the
// status API from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/maauso/vidcompress/internal/config"
	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/media"
	"github.com/maauso/vidcompress/internal/preset"
	"github.com/maauso/vidcompress/internal/server"
	"github.com/maauso/vidcompress/internal/storage"
	"github.com/maauso/vidcompress/internal/telegram"
)

// Dependencies holds everything cmd/bot runs.
type Dependencies struct {
	Pipeline  *job.Pipeline
	Bot       *telegram.Bot
	Router    http.Handler
	Workspace *storage.Workspace

	closers []io.Closer
}

// Close releases connections opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option customizes NewDependencies.
type Option func(*options)

type options struct {
	version   string
	hostStats hoststats.Func
}

// WithVersion sets the build version reported by the status API.
func WithVersion(v string) Option {
	return func(o *options) {
		if v != "" {
			o.version = v
		}
	}
}

// WithHostStats replaces the host resource sampler.
func WithHostStats(fn hoststats.Func) Option {
	return func(o *options) {
		if fn != nil {
			o.hostStats = fn
		}
	}
}

// NewDependencies creates and initializes all dependencies for the
// application. The encoder binaries must answer -version, and files left
// behind by a previous process are reclaimed before the pipeline is
// returned.
func NewDependencies(ctx context.Context, cfg *config.Config, api telegram.API, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}
	deps := &Dependencies{}

	if err := checkTools(ctx, cfg, logger); err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	ws, err := storage.NewWorkspace(cfg.TempDir)
	if err != nil {
		return nil, err
	}
	deps.Workspace = ws

	journal, err := initJournal(ctx, cfg, deps, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	// Without a journal only the age-based pass applies.
	removed, err := ws.Sweep(ctx, journal, cfg.StaleFileMaxAge, logger)
	if err != nil {
		logger.Warn("temp sweep failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("reclaimed abandoned temp files", slog.Int("files", removed))
	}

	jobOpts := []job.Option{
		job.WithMaxConcurrentTranscodes(cfg.MaxConcurrentTranscodes),
		job.WithReporterConfig(cfg.ProgressMinInterval, cfg.ProgressStepPercent),
		job.WithLogger(logger),
	}
	if journal != nil {
		jobOpts = append(jobOpts, job.WithJournal(journal))
	}
	archive, err := initArchive(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	if archive != nil {
		jobOpts = append(jobOpts, job.WithArchive(archive))
	}

	pipeline, err := job.NewPipeline(job.Dependencies{
		Store:   job.NewMemoryStore(),
		Catalog: catalog,
		Prober:  media.NewFFprobe(cfg.FFprobePath, cfg.ProbeTimeout),
		Transcoder: media.NewFFmpeg(cfg.FFmpegPath,
			media.WithThreads(cfg.FFmpegThreads),
			media.WithMaxDuration(cfg.TranscodeTimeout),
			media.WithLogger(logger),
		),
		Downloader: telegram.NewDownloader(api, cfg.BotToken, cfg.TelegramFileEndpoint, nil, cfg.MaxVideoBytes()),
		Uploader:   telegram.NewUploader(api),
		Workspace:  ws,
	}, jobOpts...)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	deps.Pipeline = pipeline

	hostStats := o.hostStats
	if hostStats == nil {
		hostStats = hoststats.NewCollector(cfg.TempDir).Collect
	}

	burst := max(1, int(cfg.TelegramRatePerSec))
	deps.Bot = telegram.NewBot(api, pipeline,
		telegram.WithMaxFileSize(cfg.MaxVideoBytes()),
		telegram.WithLimiter(rate.NewLimiter(rate.Limit(cfg.TelegramRatePerSec), burst)),
		telegram.WithMaxConcurrent(cfg.MaxConcurrentTranscodes),
		telegram.WithTempFileCounter(ws.CountFiles),
		telegram.WithHostStats(hostStats),
		telegram.WithLogger(logger),
	)

	handlers := server.NewHandlers(pipeline, logger,
		server.WithTempFileCounter(ws.CountFiles),
		server.WithMaxConcurrentTranscodes(cfg.MaxConcurrentTranscodes),
		server.WithHostStats(hostStats),
		server.WithVersion(o.version),
	)
	deps.Router = server.NewRouter(handlers, logger)

	return deps, nil
}

// checkTools fails when ffmpeg or ffprobe is missing or does not answer
// -version.
func checkTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", cfg.FFmpegPath},
		{"ffprobe", cfg.FFprobePath},
	} {
		path := tool.path
		if path == "" {
			path = tool.name
		}
		version, err := media.CheckTool(ctx, path)
		if err != nil {
			return fmt.Errorf("check %s: %w", tool.name, err)
		}
		logger.Info("media tool found",
			slog.String("tool", tool.name),
			slog.String("path", path),
			slog.String("version", version),
		)
	}
	return nil
}

// loadCatalog returns the built-in presets unless PRESETS_FILE names a
// YAML override.
func loadCatalog(cfg *config.Config, logger *slog.Logger) (*preset.Catalog, error) {
	if cfg.PresetsFile == "" {
		return preset.Default(), nil
	}
	f, err := os.Open(cfg.PresetsFile)
	if err != nil {
		return nil, fmt.Errorf("open presets file: %w", err)
	}
	defer f.Close()

	catalog, err := preset.LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("load presets file %s: %w", cfg.PresetsFile, err)
	}
	logger.Info("preset catalog loaded",
		slog.String("file", cfg.PresetsFile),
		slog.Int("presets", len(catalog.List())),
	)
	return catalog, nil
}

// initJournal creates the configured marker store. It returns nil for the
// "none" backend.
func initJournal(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (storage.MarkerStore, error) {
	switch cfg.JournalBackend {
	case config.JournalNone:
		logger.Info("job journal disabled")
		return nil, nil
	case config.JournalRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		deps.closers = append(deps.closers, rdb)
		j := storage.NewRedisJournal(rdb, cfg.RedisPrefix, cfg.JournalTTL)
		if err := j.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis journal: %w", err)
		}
		logger.Info("redis job journal configured", slog.String("addr", cfg.RedisAddr))
		return j, nil
	default:
		j, err := storage.NewFileJournal(cfg.JournalDir())
		if err != nil {
			return nil, err
		}
		logger.Info("file job journal configured", slog.String("dir", cfg.JournalDir()))
		return j, nil
	}
}

// initArchive returns the S3 archive when configured, nil otherwise.
func initArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Archive, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}
	s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		Prefix:          cfg.S3Prefix,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 storage: %w", err)
	}
	logger.Info("S3 archive configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return s3Store, nil
}
