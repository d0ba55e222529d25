// Package telegrambot is the outbound Bot API facade: it delivers digest
// messages and operational notifications to the configured target chat.
package telegrambot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// Messages of a multi-part digest are spaced out so Telegram keeps their
// order and the chat is not flooded.
const interPartDelay = time.Second

// Bot sends messages through the Telegram Bot API.
type Bot struct {
	cfg    *config.Config
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

func New(cfg *config.Config, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		cfg:    cfg,
		api:    api,
		logger: logger.With().Str("component", "telegram_bot").Logger(),
	}, nil
}

// SendDigest delivers the digest parts in order with HTML parse mode. The
// final part carries a "read more" button when a site URL is configured.
// It returns how many parts went out; a partial send returns both the
// count and the error.
func (b *Bot) SendDigest(ctx context.Context, parts []string) (int, error) {
	for i, part := range parts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(interPartDelay):
			}
		}

		msg := tgbotapi.NewMessage(b.cfg.TargetChatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true

		if i == len(parts)-1 && b.cfg.SiteBaseURL != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("читать полностью", b.cfg.SiteBaseURL),
				),
			)
		}

		if _, err := b.api.Send(msg); err != nil {
			observability.DigestsPosted.WithLabelValues("error").Inc()

			return i, fmt.Errorf("send digest part %d/%d: %w", i+1, len(parts), err)
		}

		b.logger.Info().Int("part", i+1).Int("parts", len(parts)).Msg("digest part sent")
	}

	observability.DigestsPosted.WithLabelValues("ok").Inc()

	return len(parts), nil
}

// SendNotification posts a short operational message to the target chat.
func (b *Bot) SendNotification(text string) error {
	msg := tgbotapi.NewMessage(b.cfg.TargetChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	return nil
}
