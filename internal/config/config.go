// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrBotTokenRequired is returned when BOT_TOKEN is not set.
	ErrBotTokenRequired = errors.New("config: BOT_TOKEN is required")
	// ErrInvalid wraps validation failures of individual settings.
	ErrInvalid = errors.New("config: invalid value")
)

// Journal backends.
const (
	JournalFile  = "file"
	JournalRedis = "redis"
	JournalNone  = "none"
)

// Config holds all configuration for the application.
type Config struct {
	// Telegram settings
	BotToken             string  `env:"BOT_TOKEN, required" json:"-" validate:"required"`
	TelegramAPIEndpoint  string  `env:"TELEGRAM_API_ENDPOINT, default=https://api.telegram.org/bot%s/%s" json:"telegram_api_endpoint"`
	TelegramFileEndpoint string  `env:"TELEGRAM_FILE_ENDPOINT, default=https://api.telegram.org/file/bot%s/%s" json:"telegram_file_endpoint"`
	TelegramRatePerSec   float64 `env:"TELEGRAM_RATE_PER_SEC, default=1" json:"telegram_rate_per_sec" validate:"gt=0"`
	MaxVideoSizeMB       int64   `env:"MAX_VIDEO_SIZE_MB, default=1900" json:"max_video_size_mb" validate:"gte=1"`

	// Server settings
	Port            int           `env:"PORT, default=8080" json:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=30s" json:"shutdown_timeout" validate:"gt=0"`

	// Storage settings
	TempDir         string        `env:"TEMP_DIR, default=/tmp/compressed_videos" json:"temp_dir" validate:"required"`
	StaleFileMaxAge time.Duration `env:"STALE_FILE_MAX_AGE, default=24h" json:"stale_file_max_age" validate:"gte=0"`

	// Processing settings
	MaxConcurrentTranscodes int           `env:"MAX_CONCURRENT_TRANSCODES, default=2" json:"max_concurrent_transcodes" validate:"gte=1"`
	TranscodeTimeout        time.Duration `env:"TRANSCODE_TIMEOUT, default=14m" json:"transcode_timeout" validate:"gt=0"`
	ProbeTimeout            time.Duration `env:"PROBE_TIMEOUT, default=30s" json:"probe_timeout" validate:"gt=0"`
	FFmpegPath              string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`
	FFprobePath             string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path" validate:"required"`
	FFmpegThreads           int           `env:"FFMPEG_THREADS, default=2" json:"ffmpeg_threads" validate:"gte=0"`
	ProgressMinInterval     time.Duration `env:"PROGRESS_MIN_INTERVAL, default=1s" json:"progress_min_interval" validate:"gte=0"`
	ProgressStepPercent     float64       `env:"PROGRESS_STEP_PERCENT, default=5" json:"progress_step_percent" validate:"gte=0,lte=100"`
	PresetsFile             string        `env:"PRESETS_FILE" json:"presets_file,omitempty"`

	// Journal settings
	JournalBackend string        `env:"JOURNAL_BACKEND, default=file" json:"journal_backend" validate:"oneof=file redis none"`
	JournalTTL     time.Duration `env:"JOURNAL_TTL, default=24h" json:"journal_ttl" validate:"gte=0"`
	RedisAddr      string        `env:"REDIS_ADDR" json:"redis_addr,omitempty" validate:"required_if=JournalBackend redis"`
	RedisPassword  string        `env:"REDIS_PASSWORD" json:"-"`
	RedisDB        int           `env:"REDIS_DB, default=0" json:"redis_db" validate:"gte=0"`
	RedisPrefix    string        `env:"REDIS_PREFIX, default=vidcompress" json:"redis_prefix"`

	// Optional S3 archive settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty" validate:"required_with=S3Bucket"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat         string `env:"LOG_FORMAT, default=text" json:"log_format" validate:"oneof=text json"`
	LogLevel          string `env:"LOG_LEVEL, default=info" json:"log_level"`
	LogFile           string `env:"LOG_FILE" json:"log_file,omitempty"`
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB, default=100" json:"log_file_max_size_mb" validate:"gte=1"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS, default=3" json:"log_file_max_backups" validate:"gte=0"`
	LogFileMaxAgeDays int    `env:"LOG_FILE_MAX_AGE_DAYS, default=28" json:"log_file_max_age_days" validate:"gte=0"`
	LogFileCompress   bool   `env:"LOG_FILE_COMPRESS, default=false" json:"log_file_compress"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxVideoBytes returns MaxVideoSizeMB in bytes.
func (c *Config) MaxVideoBytes() int64 {
	return c.MaxVideoSizeMB << 20
}

// JournalDir is where file journal markers live, inside the temp directory.
func (c *Config) JournalDir() string {
	return filepath.Join(c.TempDir, ".journal")
}

// LoadDotEnv loads variables from the given .env files (".env" when none
// are given) without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set or invalid.
func Load() (*Config, error) {
	return LoadFrom(context.Background(), envconfig.OsLookuper())
}

// LoadFrom reads configuration from the given lookuper.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		if strings.Contains(err.Error(), "BOT_TOKEN") {
			return nil, ErrBotTokenRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting against its constraints.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return ErrBotTokenRequired
	}
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. When LogFile is set the
// output is also written to a size-rotated file; the returned closer
// releases it.
func (c *Config) NewLogger() (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if c.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogFileMaxSizeMB,
			MaxBackups: c.LogFileMaxBackups,
			MaxAge:     c.LogFileMaxAgeDays,
			Compress:   c.LogFileCompress,
		}
		w = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}
	return c.newLogger(w), closer
}

func (c *Config) newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, MaxConcurrentTranscodes: %d, TranscodeTimeout: %s, MaxVideoSizeMB: %d, JournalBackend: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.MaxConcurrentTranscodes,
		c.TranscodeTimeout,
		c.MaxVideoSizeMB,
		c.JournalBackend,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
