package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/maauso/vidcompress/internal/hoststats"
	"github.com/maauso/vidcompress/internal/job"
	"github.com/maauso/vidcompress/internal/preset"
	"github.com/maauso/vidcompress/internal/progress"
	"github.com/maauso/vidcompress/internal/sizefmt"
)

const (
	finalEditTimeout  = 10 * time.Second
	defaultPendingTTL = 15 * time.Minute
)

// Pipeline is the part of *job.Pipeline the bot drives.
type Pipeline interface {
	Run(ctx context.Context, req job.Request) (job.Summary, error)
	RequestCancel(ctx context.Context, userID int64) error
	Status(ctx context.Context, userID int64) (job.View, bool)
	Catalog() *preset.Catalog
}

var _ Pipeline = (*job.Pipeline)(nil)

// Bot routes chat updates to the compression pipeline.
type Bot struct {
	api           API
	pipeline      Pipeline
	limiter       *rate.Limiter
	maxBytes      int64
	maxConcurrent int
	tempFiles     func() (int, error)
	hostStats     hoststats.Func
	pendingTTL    time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.Mutex
	pending map[int64]pendingChoice

	wg sync.WaitGroup
}

// pendingChoice is an uploaded video waiting for a preset button press.
type pendingChoice struct {
	src job.SourceRef
	at  time.Time
}

// Option configures a Bot.
type Option func(*Bot)

// WithMaxFileSize rejects sources larger than n bytes. Zero disables the check.
func WithMaxFileSize(n int64) Option {
	return func(b *Bot) {
		b.maxBytes = n
	}
}

// WithLimiter sets the limiter shared by progress message edits.
func WithLimiter(l *rate.Limiter) Option {
	return func(b *Bot) {
		b.limiter = l
	}
}

// WithMaxConcurrent sets the transcode limit shown by /status.
func WithMaxConcurrent(n int) Option {
	return func(b *Bot) {
		b.maxConcurrent = n
	}
}

// WithTempFileCounter sets the function /status uses to count temp files.
func WithTempFileCounter(fn func() (int, error)) Option {
	return func(b *Bot) {
		b.tempFiles = fn
	}
}

// WithHostStats sets how /status samples CPU, memory and disk usage.
func WithHostStats(fn hoststats.Func) Option {
	return func(b *Bot) {
		b.hostStats = fn
	}
}

// WithPendingTTL sets how long an unanswered preset keyboard stays valid.
func WithPendingTTL(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.pendingTTL = d
		}
	}
}

// WithClock overrides the time source used to expire preset choices.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBot creates a Bot.
func NewBot(api API, pipeline Pipeline, opts ...Option) *Bot {
	b := &Bot{
		api:      api,
		pipeline: pipeline,
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		logger:     slog.Default(),
		pendingTTL: defaultPendingTTL,
		now:        time.Now,
		pending:    make(map[int64]pendingChoice),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run consumes updates until ctx is cancelled or the channel closes. Jobs
// started from updates keep running; call Wait to block until they finish.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	b.logger.Info("bot started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

// Wait blocks until every job started by the bot has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate processes a single update. Jobs run in the background under ctx.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.onCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.onMessage(ctx, upd.Message)
	}
}

func (b *Bot) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	userID := m.From.ID
	b.prunePending()

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			b.reply(m, startText(), startKeyboard())
		case "help":
			b.reply(m, helpText(b.pipeline.Catalog(), b.maxBytes), nil)
		case "status":
			b.reply(m, b.status(ctx, userID), nil)
		case "cancel":
			b.reply(m, b.cancel(ctx, userID), nil)
		default:
			b.reply(m, "Unknown command. Try /help.", nil)
		}
		return
	}

	src, ok := sourceFromMessage(m)
	if !ok {
		b.reply(m, "Please send a video file.", nil)
		return
	}
	if b.maxBytes > 0 && src.FileSize > b.maxBytes {
		b.reply(m, "❌ This file is "+sizefmt.Format(src.FileSize)+
			". The maximum is "+sizefmt.Format(b.maxBytes)+".", nil)
		return
	}
	if v, ok := b.pipeline.Status(ctx, userID); ok && !v.State.IsTerminal() {
		b.reply(m, FailureText(job.ErrAlreadyActive), nil)
		return
	}

	b.mu.Lock()
	b.pending[userID] = pendingChoice{src: src, at: b.now()}
	b.mu.Unlock()

	kb := PresetKeyboard(b.pipeline.Catalog(), src.FileSize)
	b.reply(m, chooseText(src), kb)
}

func (b *Bot) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Warn("answer callback failed", slog.String("error", err.Error()))
	}
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	msgID := cq.Message.MessageID

	switch {
	case cq.Data == callbackCancel:
		b.editText(ctx, chatID, msgID, b.cancel(ctx, userID))

	case cq.Data == callbackMenuCompress:
		b.editText(ctx, chatID, msgID, compressPromptText(b.maxBytes))

	case cq.Data == callbackMenuHelp:
		b.editMenu(ctx, chatID, msgID, helpText(b.pipeline.Catalog(), b.maxBytes))

	case cq.Data == callbackMenuStatus:
		b.editMenu(ctx, chatID, msgID, b.status(ctx, userID))

	case strings.HasPrefix(cq.Data, callbackPresetPrefix):
		key := strings.TrimPrefix(cq.Data, callbackPresetPrefix)
		b.mu.Lock()
		choice, ok := b.pending[userID]
		delete(b.pending, userID)
		b.mu.Unlock()
		if !ok || b.expired(choice) {
			b.editText(ctx, chatID, msgID, "This choice has expired. Please send the video again.")
			return
		}
		p, err := b.pipeline.Catalog().Get(key)
		if err != nil {
			b.editText(ctx, chatID, msgID, FailureText(err))
			return
		}
		b.start(ctx, userID, choice.src, p, chatID, msgID)
	}
}

func (b *Bot) expired(c pendingChoice) bool {
	return b.now().Sub(c.at) > b.pendingTTL
}

// prunePending drops preset choices nobody answered within pendingTTL.
func (b *Bot) prunePending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for userID, c := range b.pending {
		if b.expired(c) {
			delete(b.pending, userID)
		}
	}
}

// start launches a pipeline run whose progress is rendered into msgID.
func (b *Bot) start(ctx context.Context, userID int64, src job.SourceRef, p preset.Preset, chatID int64, msgID int) {
	logger := b.logger.With(slog.Int64("user_id", userID), slog.String("preset", p.Key))
	sink := NewMessageSink(b.api, b.limiter, chatID, msgID, p.DisplayName, logger)
	if err := sink.Send(ctx, progress.Event{Stage: progress.StageDownloading}); err != nil {
		logger.Warn("progress message edit failed", slog.String("error", err.Error()))
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		summary, err := b.pipeline.Run(ctx, job.Request{
			UserID:    userID,
			Source:    src,
			PresetKey: p.Key,
			Sink:      sink,
		})

		text := doneText(summary)
		switch {
		case err == nil:
			logger.Info("job finished", slog.String("job_id", summary.JobID))
		case errors.Is(err, job.ErrCancelled):
			logger.Info("job cancelled", slog.String("job_id", summary.JobID))
			text = FailureText(err)
		default:
			logger.Warn("job failed", slog.String("job_id", summary.JobID), slog.String("error", err.Error()))
			text = FailureText(err)
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalEditTimeout)
		defer cancel()
		if err := sink.Finish(fctx, text); err != nil {
			logger.Warn("final message edit failed", slog.String("error", err.Error()))
		}
	}()
}

// cancel drops a pending preset choice or flags the running job.
func (b *Bot) cancel(ctx context.Context, userID int64) string {
	b.mu.Lock()
	choice, ok := b.pending[userID]
	delete(b.pending, userID)
	b.mu.Unlock()
	pending := ok && !b.expired(choice)
	if pending {
		return "🚫 Cancelled."
	}

	if err := b.pipeline.RequestCancel(ctx, userID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return "Nothing to cancel."
		}
		b.logger.Warn("cancel failed", slog.Int64("user_id", userID), slog.String("error", err.Error()))
		return "❌ Could not cancel the job."
	}
	return "🛑 Cancelling..."
}

func (b *Bot) status(ctx context.Context, userID int64) string {
	info := statusInfo{
		TempFiles:     -1,
		MaxBytes:      b.maxBytes,
		MaxConcurrent: b.maxConcurrent,
	}
	info.View, info.HasJob = b.pipeline.Status(ctx, userID)
	if b.tempFiles != nil {
		if n, err := b.tempFiles(); err == nil {
			info.TempFiles = n
		} else {
			b.logger.Warn("count temp files failed", slog.String("error", err.Error()))
		}
	}
	if b.hostStats != nil {
		if snap, err := b.hostStats(ctx); err == nil {
			info.Host = &snap
		} else {
			b.logger.Warn("sample host resources failed", slog.String("error", err.Error()))
		}
	}
	return statusText(info)
}

func (b *Bot) reply(m *tgbotapi.Message, text string, markup any) {
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = m.MessageID
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("send message failed", slog.Int64("chat_id", m.Chat.ID), slog.String("error", err.Error()))
	}
}

func (b *Bot) editText(ctx context.Context, chatID int64, msgID int, text string) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
	}
	cfg := tgbotapi.NewEditMessageText(chatID, msgID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Request(cfg); err != nil && !isNotModified(err) {
		b.logger.Warn("edit message failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

// editMenu replaces a /start menu message with text and keeps the menu
// buttons under it.
func (b *Bot) editMenu(ctx context.Context, chatID int64, msgID int, text string) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
	}
	cfg := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, startKeyboard())
	cfg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Request(cfg); err != nil && !isNotModified(err) {
		b.logger.Warn("edit menu failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
	}
}

// sourceFromMessage extracts a video from m, either as a native video or
// as a document with a video MIME type.
func sourceFromMessage(m *tgbotapi.Message) (job.SourceRef, bool) {
	src := job.SourceRef{ChatID: m.Chat.ID, MessageID: m.MessageID}
	switch {
	case m.Video != nil:
		src.FileID = m.Video.FileID
		src.FileSize = int64(m.Video.FileSize)
		src.MimeType = m.Video.MimeType
		src.FileName = "video.mp4"
		return src, true
	case m.Document != nil && strings.HasPrefix(m.Document.MimeType, "video/"):
		src.FileID = m.Document.FileID
		src.FileSize = int64(m.Document.FileSize)
		src.MimeType = m.Document.MimeType
		src.FileName = m.Document.FileName
		return src, true
	}
	return job.SourceRef{}, false
}
