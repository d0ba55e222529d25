// Package digest assembles the daily Telegram digest: per-category AI
// summaries stored once per day, rendered into one or two HTML messages
// within Telegram's length limits.
package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// ErrEmptyDigest is returned when the date has no summaries to send.
var ErrEmptyDigest = errors.New("no content for digest")

const (
	// Articles per category fed into one summary prompt.
	summaryArticleCap = 10

	// Content preview per article inside the prompt.
	summaryContentCap = 500
)

// Builder produces daily summaries and renders digests from them.
type Builder struct {
	cfg        *config.Config
	db         *db.DB
	ai         *llm.Client
	categories *categories.Service
	logger     zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, ai *llm.Client, cats *categories.Service, logger zerolog.Logger) *Builder {
	return &Builder{
		cfg:        cfg,
		db:         database,
		ai:         ai,
		categories: cats,
		logger:     logger.With().Str("component", "digest").Logger(),
	}
}

// EnsureDailySummaries generates and stores one summary per display
// category for the date, skipping work when summaries already exist unless
// force is set. AI failures degrade to a deterministic fallback text so the
// digest can always be built.
func (b *Builder) EnsureDailySummaries(ctx context.Context, date time.Time, force bool) error {
	if !force {
		existing, err := b.db.DailySummaries(ctx, date)
		if err != nil {
			return fmt.Errorf("check existing summaries: %w", err)
		}

		if len(existing) > 0 {
			b.logger.Debug().Time("date", date).Int("summaries", len(existing)).Msg("daily summaries already present")

			return nil
		}
	}

	since, until := b.dayBounds(date)

	articles, err := b.db.ArticlesForDigest(ctx, since, until)
	if err != nil {
		return fmt.Errorf("load digest articles: %w", err)
	}

	if len(articles) == 0 {
		b.logger.Info().Time("date", date).Msg("no articles for daily summaries")

		return nil
	}

	groups, err := b.groupByCategory(ctx, articles)
	if err != nil {
		return err
	}

	for display, group := range groups {
		summary := b.summarizeCategory(ctx, display, group)

		err := b.db.UpsertDailySummary(ctx, &domain.DailySummary{
			Date:          date,
			Category:      display,
			SummaryText:   summary,
			ArticlesCount: len(group),
		})
		if err != nil {
			return fmt.Errorf("store summary for %s: %w", display, err)
		}
	}

	b.logger.Info().Time("date", date).Int("categories", len(groups)).Int("articles", len(articles)).Msg("daily summaries generated")

	return nil
}

// BuildDigest renders the date's stored summaries into one or more
// ready-to-send HTML messages.
func (b *Builder) BuildDigest(ctx context.Context, date time.Time) ([]string, error) {
	summaries, err := b.db.DailySummaries(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load daily summaries: %w", err)
	}

	if len(summaries) == 0 {
		return nil, ErrEmptyDigest
	}

	blocks := make([]block, 0, len(summaries))
	total := 0

	for _, s := range summaries {
		blocks = append(blocks, newBlock(s.Category, s.SummaryText, s.ArticlesCount))
		total += s.ArticlesCount
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].articles > blocks[j].articles
	})

	parts := render(date, blocks, total)
	observability.DigestParts.Observe(float64(len(parts)))

	return parts, nil
}

// dayBounds returns the date's [start, end) window in the configured
// timezone; UTC when the zone cannot be loaded.
func (b *Builder) dayBounds(date time.Time) (time.Time, time.Time) {
	loc, err := time.LoadLocation(b.cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)

	return start, start.AddDate(0, 0, 1)
}

// groupByCategory buckets articles by their primary display category.
// Stored rows carry only raw AI labels; they are resolved against the
// current mapping state here, at build time.
func (b *Builder) groupByCategory(ctx context.Context, articles []domain.Article) (map[string][]domain.Article, error) {
	ids := make([]int64, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}

	stored, err := b.db.ArticleCategories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load article categories: %w", err)
	}

	groups := make(map[string][]domain.Article)

	for _, a := range articles {
		display := b.primaryDisplay(ctx, stored[a.ID])
		groups[display] = append(groups[display], a)
	}

	return groups, nil
}

func (b *Builder) primaryDisplay(ctx context.Context, cats []domain.ArticleCategory) string {
	if len(cats) == 0 {
		return otherDisplayName()
	}

	labels := make([]string, 0, len(cats))
	confidences := make([]float32, 0, len(cats))

	for _, c := range cats {
		labels = append(labels, c.AICategory)
		confidences = append(confidences, c.Confidence)
	}

	resolved := b.categories.ResolveAll(ctx, labels, confidences)
	if len(resolved) > 0 && resolved[0].DisplayName != "" {
		return resolved[0].DisplayName
	}

	return otherDisplayName()
}

// summarizeCategory asks the model for connected prose over the category's
// headlines, falling back to a fixed text on failure.
func (b *Builder) summarizeCategory(ctx context.Context, display string, group []domain.Article) string {
	if len(group) > summaryArticleCap {
		group = group[:summaryArticleCap]
	}

	headlines := make([]string, 0, len(group))

	for _, a := range group {
		body := a.Summary
		if body == "" {
			body = a.Content
		}

		headlines = append(headlines, fmt.Sprintf("Заголовок: %s\nСодержание: %s", a.Title, truncateRunes(body, summaryContentCap)))
	}

	summary, err := b.ai.GenerateCategorySummary(ctx, display, headlines)
	if err != nil || strings.TrimSpace(summary) == "" {
		b.logger.Warn().Err(err).Str("category", display).Msg("category summary fell back")

		return llm.FallbackCategorySummary(display, len(group))
	}

	return summary
}

func otherDisplayName() string {
	for _, c := range domain.FixedCategories() {
		if c.Name == domain.CategoryOther {
			return c.DisplayName
		}
	}

	return domain.CategoryOther
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return string(runes[:limit]) + "..."
}
