// Package alert notifies operators about refunds and persistence failures.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram posts alerts to a fixed operator chat.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram authenticates the bot. endpoint may be empty to use the public Bot API.
func NewTelegram(token string, chatID int64, endpoint string, log *slog.Logger) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send alert failed", "chat_id", t.chatID, "err", err)
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

// Noop drops alerts. Used when no bot token is configured.
type Noop struct{}

func (Noop) Alert(context.Context, string) error { return nil }
