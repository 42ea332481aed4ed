// Package main is the entry point for the vidcompress Telegram bot and its
// status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/vidcompress/internal/bootstrap"
	"github.com/maauso/vidcompress/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := cfg.NewLogger()
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting vidcompress",
		slog.String("version", version),
		slog.Int("port", cfg.Port),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_concurrent_transcodes", cfg.MaxConcurrentTranscodes),
		slog.Duration("transcode_timeout", cfg.TranscodeTimeout),
		slog.Int64("max_video_size_mb", cfg.MaxVideoSizeMB),
		slog.String("journal", cfg.JournalBackend),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.TelegramAPIEndpoint)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	logger.Info("telegram authorized", slog.String("username", api.Self.UserName))

	deps, err := bootstrap.NewDependencies(ctx, cfg, api, logger, bootstrap.WithVersion(version))
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      deps.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return deps.Bot.Run(gctx, updates)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		api.StopReceivingUpdates()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}

		done := make(chan struct{})
		go func() {
			deps.Bot.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("jobs still running at shutdown deadline")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped gracefully")
	return nil
}
