package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
)

type rssFetcher struct {
	src    *domain.Source
	client *httpclient.Client
	parser *gofeed.Parser
	logger zerolog.Logger
}

func newRSSFetcher(src *domain.Source, deps Deps) Fetcher {
	return &rssFetcher{
		src:    src,
		client: deps.Client,
		parser: gofeed.NewParser(),
		logger: deps.Logger.With().Str("component", "rss").Str("source", src.Name).Logger(),
	}
}

func (f *rssFetcher) FetchArticles(ctx context.Context, limit int) ([]domain.NormalizedItem, error) {
	feed, err := f.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	items := make([]domain.NormalizedItem, 0, len(feed.Items))

	for _, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}

		item, ok := normalizeFeedEntry(entry, now)
		if !ok {
			continue
		}

		items = append(items, item)
	}

	f.logger.Debug().Int("items", len(items)).Msg("feed parsed")

	return items, nil
}

func (f *rssFetcher) TestConnection(ctx context.Context) error {
	_, err := f.fetchFeed(ctx)
	return err
}

func (f *rssFetcher) fetchFeed(ctx context.Context) (*gofeed.Feed, error) {
	body, err := f.client.Get(ctx, f.src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", f.src.URL, err)
	}

	feed, err := f.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.src.URL, err)
	}

	return feed, nil
}

// normalizeFeedEntry maps one feed entry to an item. Entries without a link
// are skipped, there is nothing to deduplicate or read later.
func normalizeFeedEntry(entry *gofeed.Item, now time.Time) (domain.NormalizedItem, bool) {
	if entry == nil || strings.TrimSpace(entry.Link) == "" {
		return domain.NormalizedItem{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = "No title"
	}

	content := entry.Content
	if content == "" {
		content = entry.Description
	}

	return domain.NormalizedItem{
		Title:       title,
		URL:         strings.TrimSpace(entry.Link),
		Content:     content,
		ImageURL:    feedEntryImage(entry),
		PublishedAt: feedEntryDate(entry, now),
		Raw: map[string]any{
			"guid":   feedEntryGUID(entry),
			"author": feedEntryAuthor(entry),
			"tags":   entry.Categories,
		},
	}, true
}

func feedEntryGUID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}

	return entry.Link
}

func feedEntryAuthor(entry *gofeed.Item) string {
	if entry.Author != nil {
		return entry.Author.Name
	}

	return ""
}

func feedEntryImage(entry *gofeed.Item) string {
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}

	if entry.Image != nil {
		return entry.Image.URL
	}

	return ""
}

// feedEntryDate prefers the parsed publication date, then the update date,
// then the raw date strings. Entries without any usable date get the fetch
// time so ordering stays sane.
func feedEntryDate(entry *gofeed.Item, now time.Time) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}

	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}

	for _, raw := range []string{entry.Published, entry.Updated} {
		if raw == "" {
			continue
		}

		if t, err := dateparse.ParseAny(raw); err == nil {
			return t.UTC()
		}
	}

	return now
}
