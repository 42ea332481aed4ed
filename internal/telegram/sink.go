package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/maauso/vidcompress/internal/progress"
)

// Compile-time check that MessageSink implements progress.Sink.
var _ progress.Sink = (*MessageSink)(nil)

// MessageSink renders progress events by editing a single chat message.
// Edits go through a limiter shared by all sinks of the bot, and an edit
// that would not change the text is skipped.
type MessageSink struct {
	api        API
	limiter    *rate.Limiter
	chatID     int64
	messageID  int
	presetName string
	logger     *slog.Logger

	mu   sync.Mutex
	last string
}

// NewMessageSink creates a sink editing messageID in chatID. A nil limiter
// disables rate limiting.
func NewMessageSink(api API, limiter *rate.Limiter, chatID int64, messageID int, presetName string, logger *slog.Logger) *MessageSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageSink{
		api:        api,
		limiter:    limiter,
		chatID:     chatID,
		messageID:  messageID,
		presetName: presetName,
		logger:     logger,
	}
}

// Send implements progress.Sink.
func (s *MessageSink) Send(ctx context.Context, e progress.Event) error {
	return s.edit(ctx, ProgressText(s.presetName, e), true)
}

// Finish replaces the progress message with a final text and drops the
// cancel button.
func (s *MessageSink) Finish(ctx context.Context, text string) error {
	return s.edit(ctx, text, false)
}

func (s *MessageSink) edit(ctx context.Context, text string, withCancel bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if text == s.last {
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var cfg tgbotapi.EditMessageTextConfig
	if withCancel {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(s.chatID, s.messageID, text, cancelKeyboard())
	} else {
		cfg = tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML

	if _, err := s.api.Request(cfg); err != nil && !isNotModified(err) {
		return fmt.Errorf("edit progress message: %w", err)
	}
	s.last = text
	return nil
}
