// Package telegramapi fetches channel history over MTProto. Unlike the
// preview scraper it needs user credentials, but it sees the full history
// depth and is immune to widget markup changes. Sources opt in with the
// telegram_api type; the registry only offers it when TG_API_ID and
// TG_API_HASH are configured.
package telegramapi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/ingest/sources"
	"github.com/lueurxax/news-aggregator/internal/ingest/telegramweb"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// ErrChannelNotFound indicates the username did not resolve to a channel.
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotAChannel indicates the username resolved to a user or group chat.
var ErrNotAChannel = errors.New("peer is not a channel")

// ErrNotConfigured is returned when MTProto credentials are missing.
var ErrNotConfigured = errors.New("telegram api credentials not configured")

const (
	defaultHistoryLimit = 50
	floodWaitCap        = 60 * time.Second

	transportAPI = "api"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

type fetcher struct {
	username string
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewFetcher is the sources.Factory for MTProto history fetching.
func NewFetcher(src *domain.Source, deps sources.Deps) sources.Fetcher {
	username := telegramweb.NormalizeChannelUsername(src.URL)

	return &fetcher{
		username: username,
		cfg:      deps.Config,
		logger:   deps.Logger.With().Str("component", "telegram_api").Str("channel", username).Logger(),
	}
}

// FetchArticles connects, resolves the channel and maps the newest history
// slice to normalized items. The session file keeps authentication across
// runs; only the first run ever prompts for a login code.
func (f *fetcher) FetchArticles(ctx context.Context, limit int) ([]domain.NormalizedItem, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var items []domain.NormalizedItem

	err := f.run(ctx, func(ctx context.Context, api *tg.Client) error {
		peer, err := f.resolveChannel(ctx, api)
		if err != nil {
			return err
		}

		messages, err := f.history(ctx, api, peer, limit)
		if err != nil {
			return err
		}

		items = f.normalizeMessages(messages)

		return nil
	})
	if err != nil {
		observability.TelegramFetches.WithLabelValues(transportAPI, "error").Inc()
		return nil, err
	}

	observability.TelegramFetches.WithLabelValues(transportAPI, "ok").Inc()

	return items, nil
}

// TestConnection verifies credentials and that the username resolves to a
// channel.
func (f *fetcher) TestConnection(ctx context.Context) error {
	return f.run(ctx, func(ctx context.Context, api *tg.Client) error {
		_, err := f.resolveChannel(ctx, api)
		return err
	})
}

// run drives one connected MTProto session around fn.
func (f *fetcher) run(ctx context.Context, fn func(ctx context.Context, api *tg.Client) error) error {
	if !f.cfg.TelegramAPIConfigured() {
		return ErrNotConfigured
	}

	client := telegram.NewClient(f.cfg.TGAPIID, f.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{Path: f.cfg.TGSessionPath},
	})

	err := client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, authFlow(f.cfg, f.logger)); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		return fn(ctx, tg.NewClient(client))
	})
	if err != nil {
		return fmt.Errorf("telegram api session: %w", err)
	}

	return nil
}

func (f *fetcher) resolveChannel(ctx context.Context, api *tg.Client) (*tg.InputPeerChannel, error) {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: f.username})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", f.username, err)
	}

	if len(resolved.Chats) == 0 {
		return nil, fmt.Errorf("%s: %w", f.username, ErrChannelNotFound)
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("%s: %w", f.username, ErrNotAChannel)
	}

	return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
}

// history fetches the newest slice. A flood wait inside the cap is slept
// through once; longer waits surface as errors so the source backs off via
// its regular fetch interval.
func (f *fetcher) history(ctx context.Context, api *tg.Client, peer tg.InputPeerClass, limit int) ([]*tg.Message, error) {
	req := &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit}

	history, err := api.MessagesGetHistory(ctx, req)
	if err != nil {
		if floodErr, ok := tgerr.As(err); ok && floodErr.Type == "FLOOD_WAIT" {
			wait := time.Duration(floodErr.Argument) * time.Second
			if wait > floodWaitCap {
				return nil, fmt.Errorf("flood wait %s: %w", wait, err)
			}

			f.logger.Warn().Dur("wait", wait).Msg("flood wait, retrying once")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			history, err = api.MessagesGetHistory(ctx, req)
		}

		if err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}
	}

	var raw []tg.MessageClass

	switch h := history.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	default:
		return nil, nil
	}

	messages := make([]*tg.Message, 0, len(raw))

	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok && msg.Message != "" {
			messages = append(messages, msg)
		}
	}

	return messages, nil
}

// normalizeMessages maps history messages, newest first, onto normalized
// items using the same text post-processing as the preview path. Media
// bytes are never downloaded; the item records which kinds were attached.
func (f *fetcher) normalizeMessages(messages []*tg.Message) []domain.NormalizedItem {
	items := make([]domain.NormalizedItem, 0, len(messages))

	for _, msg := range messages {
		content := telegramweb.CleanContent(msg.Message)
		if content == "" {
			continue
		}

		msgURL := fmt.Sprintf("https://t.me/%s/%d", f.username, msg.ID)
		links := externalLinks(msg)
		originalLink := telegramweb.FindOriginalLink(links)
		title := telegramweb.ExtractTitle(content)

		item := domain.NormalizedItem{
			Title:       title,
			URL:         msgURL,
			Content:     content,
			PublishedAt: time.Unix(int64(msg.Date), 0).UTC(),
			Raw: map[string]any{
				"telegram_url": msgURL,
				"message_id":   fmt.Sprintf("%d", msg.ID),
				"channel":      f.username,
				"transport":    transportAPI,
			},
		}

		if originalLink != "" {
			item.Raw["original_link"] = originalLink
		}

		if len(links) > 0 {
			item.Raw["external_links"] = links
		}

		if kind := mediaKind(msg.Media); kind != "" {
			item.Raw["media_kind"] = kind
		}

		if tags := telegramweb.ExtractHashtags(content); len(tags) > 0 {
			item.Raw["hashtags"] = tags
		}

		if verdict := llm.ScoreAdvertising(title, content, msgURL, false); verdict.Certain() {
			item.Ad = &domain.AdAssessment{
				IsAdvertisement: verdict.IsAdvertisement,
				Confidence:      verdict.Confidence,
				Type:            verdict.Type,
				Reasoning:       verdict.Reasoning,
				Markers:         verdict.Markers,
			}
		}

		items = append(items, item)
	}

	return items
}

// externalLinks merges entity URLs with plain-text URLs, keeping the
// preview path's filtering and cap.
func externalLinks(msg *tg.Message) []string {
	seen := make(map[string]struct{})

	var links []string

	add := func(raw string) {
		link := telegramweb.NormalizeExternalURL(raw)
		if link == "" {
			return
		}

		if _, dup := seen[link]; dup {
			return
		}

		seen[link] = struct{}{}

		links = append(links, link)
	}

	for _, e := range msg.Entities {
		if textURL, ok := e.(*tg.MessageEntityTextURL); ok {
			add(textURL.URL)
		}
	}

	for _, raw := range urlRegex.FindAllString(msg.Message, -1) {
		if len(links) >= 5 {
			break
		}

		add(raw)
	}

	if len(links) > 5 {
		links = links[:5]
	}

	return links
}

func mediaKind(media tg.MessageMediaClass) string {
	switch media.(type) {
	case *tg.MessageMediaPhoto:
		return domain.MediaTypePhoto
	case *tg.MessageMediaDocument:
		return domain.MediaTypeDocument
	case *tg.MessageMediaPoll:
		return "poll"
	case *tg.MessageMediaGeo, *tg.MessageMediaVenue:
		return "location"
	case *tg.MessageMediaContact:
		return "contact"
	case nil:
		return ""
	default:
		return ""
	}
}
