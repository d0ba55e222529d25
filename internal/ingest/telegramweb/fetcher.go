// Package telegramweb fetches public Telegram channels through the widget
// preview pages. No credentials are needed: the t.me/s markup carries the
// latest posts, their media and link previews; the parser in this package
// turns them into normalized items.
package telegramweb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/extract"
	"github.com/lueurxax/news-aggregator/internal/ingest/sources"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// ErrChannelNotFound marks a 404 from the preview page: the channel does
// not exist or its preview is restricted. Retrying will not help.
var ErrChannelNotFound = errors.New("channel not found or private")

// ErrNoMessages is returned when every preview path yielded a page without
// parseable messages.
var ErrNoMessages = errors.New("no messages found on preview page")

const (
	fetchAttempts    = 3
	retryBackoffBase = 2 * time.Second
	retryBackoffCap  = 30 * time.Second

	// A post shorter than this is likely a teaser; when it links to a
	// known news site the full article text replaces it.
	fullContentThreshold = 200
	fullContentMinGain   = 2

	transportWeb = "web"
)

// previewHosts are tried in order; the alternative domain serves the same
// widget markup when t.me throttles.
var previewHosts = []string{"https://t.me/s/", "https://telegram.me/s/"}

type fetcher struct {
	username  string
	cfg       *config.Config
	client    *httpclient.Client
	extractor *extract.Extractor
	logger    zerolog.Logger
}

// NewFetcher is the sources.Factory for public-channel preview scraping.
func NewFetcher(src *domain.Source, deps sources.Deps) sources.Fetcher {
	return &fetcher{
		username:  NormalizeChannelUsername(src.URL),
		cfg:       deps.Config,
		client:    deps.Client,
		extractor: deps.Extractor,
		logger:    deps.Logger.With().Str("component", "telegram_web").Str("channel", NormalizeChannelUsername(src.URL)).Logger(),
	}
}

// FetchArticles scrapes the channel preview and returns the newest posts,
// newest first.
func (f *fetcher) FetchArticles(ctx context.Context, limit int) ([]domain.NormalizedItem, error) {
	doc, err := f.fetchPreview(ctx)
	if err != nil {
		observability.TelegramFetches.WithLabelValues(transportWeb, "error").Inc()
		return nil, err
	}

	messages := parseMessages(doc, f.username, time.Now().UTC())
	if len(messages) == 0 {
		observability.TelegramFetches.WithLabelValues(transportWeb, "empty").Inc()
		return nil, fmt.Errorf("channel %s: %w", f.username, ErrNoMessages)
	}

	// The preview page lists posts oldest first.
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	items := make([]domain.NormalizedItem, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		items = append(items, f.normalizeMessage(ctx, &messages[i]))
	}

	observability.TelegramFetches.WithLabelValues(transportWeb, "ok").Inc()

	return items, nil
}

// TestConnection fetches the preview page and checks it parses into at
// least one message.
func (f *fetcher) TestConnection(ctx context.Context) error {
	if f.username == "" {
		return fmt.Errorf("%w: empty channel username", sources.ErrInvalidSourceURL)
	}

	doc, err := f.fetchPreview(ctx)
	if err != nil {
		return err
	}

	if len(parseMessages(doc, f.username, time.Now().UTC())) == 0 {
		return fmt.Errorf("channel %s: %w", f.username, ErrNoMessages)
	}

	return nil
}

// fetchPreview walks the preview hosts with this fetcher's own retry policy:
// a 403 means the header profile got flagged and a different one is worth a
// try, so unlike the shared client it stays retryable here.
func (f *fetcher) fetchPreview(ctx context.Context) (*goquery.Document, error) {
	var lastErr error

	for _, host := range previewHosts {
		previewURL := host + f.username

		doc, err := f.fetchPage(ctx, previewURL)
		if err == nil {
			return doc, nil
		}

		if errors.Is(err, ErrChannelNotFound) {
			return nil, err
		}

		lastErr = err

		f.logger.Debug().Err(err).Str("url", previewURL).Msg("preview path failed, trying alternative")
	}

	return nil, lastErr
}

func (f *fetcher) fetchPage(ctx context.Context, previewURL string) (*goquery.Document, error) {
	var lastErr error

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		body, err := f.request(ctx, previewURL, attempt)
		if err != nil {
			if errors.Is(err, ErrChannelNotFound) {
				return nil, err
			}

			lastErr = err

			continue
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("parse preview page: %w", err)

			continue
		}

		return doc, nil
	}

	return nil, lastErr
}

// request performs one GET with the attempt's header profile. Header
// rotation is the point: each retry presents a different browser identity
// plus anti-cache headers.
func (f *fetcher) request(ctx context.Context, previewURL string, attempt int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range httpclient.BrowserHeaders(attempt) {
		req.Header.Set(k, v)
	}

	if attempt > 0 {
		for k, v := range httpclient.AntiCacheHeaders() {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // nothing to do about a close error on a read path

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", previewURL, ErrChannelNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, &httpclient.StatusError{Code: resp.StatusCode}
	}

	return httpclient.ReadBody(resp)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBackoffBase << (attempt - 1)
	if delay > retryBackoffCap {
		delay = retryBackoffCap
	}

	delay += time.Duration(rand.Int64N(int64(time.Second)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// normalizeMessage turns one parsed post into a normalized item: headline
// and hashtags from the text, teaser replacement from the linked article
// when it qualifies, and a keyword ad verdict when the heuristic is sure.
func (f *fetcher) normalizeMessage(ctx context.Context, msg *Message) domain.NormalizedItem {
	content := msg.Text
	originalLink := FindOriginalLink(msg.Links)
	newsDomain := originalLink != "" && f.cfg.IsNewsDomain(hostOf(originalLink))

	if replaced, ok := f.fullContent(ctx, content, originalLink, newsDomain); ok {
		content = replaced
	}

	title := ExtractTitle(content)

	item := domain.NormalizedItem{
		Title:       title,
		URL:         msg.URL,
		Content:     content,
		Media:       msg.Media,
		PublishedAt: msg.PostedAt,
		Raw: map[string]any{
			"telegram_url": msg.URL,
			"message_id":   msg.ID,
			"channel":      f.username,
		},
	}

	for _, m := range msg.Media {
		if m.Type == domain.MediaTypePhoto {
			item.ImageURL = m.URL
			break
		}
	}

	if originalLink != "" {
		item.Raw["original_link"] = originalLink
	}

	if len(msg.Links) > 0 {
		item.Raw["external_links"] = msg.Links
	}

	if msg.Forwarded != "" {
		item.Raw["forwarded_from"] = msg.Forwarded
	}

	if tags := ExtractHashtags(content); len(tags) > 0 {
		item.Raw["hashtags"] = tags
	}

	if verdict := llm.ScoreAdvertising(title, content, msg.URL, newsDomain); verdict.Certain() {
		item.Ad = &domain.AdAssessment{
			IsAdvertisement: verdict.IsAdvertisement,
			Confidence:      verdict.Confidence,
			Type:            verdict.Type,
			Reasoning:       verdict.Reasoning,
			Markers:         verdict.Markers,
		}
	}

	return item
}

// fullContent replaces a short teaser with the linked article's text when
// the link points at an allow-listed news site and extraction brings back
// meaningfully more than the teaser had.
func (f *fetcher) fullContent(ctx context.Context, teaser, originalLink string, newsDomain bool) (string, bool) {
	if f.extractor == nil || originalLink == "" || !newsDomain {
		return "", false
	}

	teaserLen := utf8.RuneCountInString(teaser)
	if teaserLen >= fullContentThreshold {
		return "", false
	}

	res, err := f.extractor.ExtractArticle(ctx, originalLink)
	if err != nil {
		f.logger.Debug().Err(err).Str("url", originalLink).Msg("full content extraction failed")
		return "", false
	}

	if !res.Accepted || utf8.RuneCountInString(res.Content) < teaserLen*fullContentMinGain {
		return "", false
	}

	f.logger.Debug().
		Str("url", originalLink).
		Int("teaser_len", teaserLen).
		Int("full_len", utf8.RuneCountInString(res.Content)).
		Msg("teaser replaced with full article text")

	return res.Content, true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}
