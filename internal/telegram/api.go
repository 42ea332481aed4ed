// Package telegram is the chat layer: it turns Telegram updates into
// pipeline runs and implements the pipeline's downloader, uploader and
// progress sink on top of the Bot API.
package telegram

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// API is the subset of *tgbotapi.BotAPI the chat layer uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

var _ API = (*tgbotapi.BotAPI)(nil)

// isNotModified reports the harmless error Telegram returns when an edit
// would leave a message unchanged.
func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return strings.Contains(apiErr.Message, "message is not modified")
	}
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
