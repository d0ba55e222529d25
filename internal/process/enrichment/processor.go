// Package enrichment runs AI post-processing over ingested articles: a
// cheap pre-filter, optional content re-extraction, a unified model
// analysis, and one atomic database commit per article.
package enrichment

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/extract"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	"github.com/lueurxax/news-aggregator/internal/platform/worker"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

const (
	maxOptimizedTitle = 200
	maxErrorSamples   = 5

	// Pause after a degraded (fallback) analysis so a rate-limited provider
	// gets room to recover before the next article.
	degradedPause = 5 * time.Second
)

// reextractSkipHosts never yield more content on a second fetch: the stored
// text already is the whole post.
var reextractSkipHosts = map[string]struct{}{
	"t.me":          {},
	"telegram.me":   {},
	"twitter.com":   {},
	"x.com":         {},
	"instagram.com": {},
}

// Report aggregates the outcome of one enrichment run.
type Report struct {
	Processed int
	Enriched  int
	Filtered  int
	Failed    int
	APICalls  int
	Duration  time.Duration
	Errors    []string
}

func (r *Report) addError(err error) {
	r.Failed++

	if len(r.Errors) < maxErrorSamples {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Processor enriches unprocessed articles with summaries, categories and
// advertisement verdicts.
type Processor struct {
	cfg       *config.Config
	db        *db.DB
	ai        *llm.Client
	extractor *extract.Extractor
	filter    *smartFilter
	logger    zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, ai *llm.Client, extractor *extract.Extractor, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		db:        database,
		ai:        ai,
		extractor: extractor,
		filter:    newSmartFilter(),
		logger:    logger.With().Str("component", "enrichment").Logger(),
	}
}

type enrichOptions struct {
	// forceExtract re-runs content extraction even when the filter passes
	// the stored content. Used by the suspect-summary sweep.
	forceExtract bool
}

// EnrichBacklog processes up to limit unprocessed articles in batches.
// One article's failure never aborts the run; only context cancellation
// does. The returned report is valid even alongside a non-nil error.
func (p *Processor) EnrichBacklog(ctx context.Context, limit int) (*Report, error) {
	return p.enrich(ctx, limit, enrichOptions{})
}

// ReprocessSuspects resets articles whose summary degenerated to the title
// or whose content is too short, then re-runs them with forced extraction.
func (p *Processor) ReprocessSuspects(ctx context.Context) (*Report, error) {
	n, err := p.db.MarkSuspectSummariesUnprocessed(ctx)
	if err != nil {
		return &Report{}, err
	}

	p.logger.Info().Int64("articles", n).Msg("suspect summaries queued for reprocessing")

	if n == 0 {
		return &Report{}, nil
	}

	return p.enrich(ctx, int(n), enrichOptions{forceExtract: true})
}

func (p *Processor) enrich(ctx context.Context, limit int, opts enrichOptions) (*Report, error) {
	started := time.Now()
	report := &Report{}

	defer func() {
		report.Duration = time.Since(started)
	}()

	if limit <= 0 {
		limit = p.cfg.EnrichLimit
	}

	articles, err := p.db.UnprocessedArticles(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("load unprocessed articles: %w", err)
	}

	if backlog, err := p.db.CountUnprocessedArticles(ctx); err == nil {
		observability.EnrichmentBacklog.Set(float64(backlog))
	}

	articles = dedupeByID(articles)
	if len(articles) == 0 {
		return report, nil
	}

	batchSize := p.cfg.EnrichBatchSize
	if batchSize <= 0 {
		batchSize = len(articles)
	}

	for start := 0; start < len(articles); start += batchSize {
		end := start + batchSize
		if end > len(articles) {
			end = len(articles)
		}

		if err := p.processBatch(ctx, articles[start:end], opts, report); err != nil {
			return report, err
		}
	}

	p.logger.Info().
		Int("processed", report.Processed).
		Int("enriched", report.Enriched).
		Int("filtered", report.Filtered).
		Int("failed", report.Failed).
		Int("api_calls", report.APICalls).
		Msg("enrichment run finished")

	return report, nil
}

func (p *Processor) processBatch(ctx context.Context, batch []domain.Article, opts enrichOptions, report *Report) error {
	batchStart := time.Now()

	defer func() {
		observability.EnrichmentBatchDuration.Observe(time.Since(batchStart).Seconds())
	}()

	for i := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}

		degraded, err := p.processArticle(ctx, &batch[i], opts, report)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			p.logger.Error().Err(err).Int64("article_id", batch[i].ID).Msg("article enrichment failed")
			observability.ArticlesProcessed.WithLabelValues("error").Inc()
			report.addError(fmt.Errorf("article %d: %w", batch[i].ID, err))

			continue
		}

		if degraded {
			if err := worker.Wait(ctx, degradedPause); err != nil {
				return err
			}
		}
	}

	return nil
}

// processArticle runs the full per-article flow and commits the result in
// one transaction. It reports whether the provider answered degraded so the
// batch can back off.
func (p *Processor) processArticle(ctx context.Context, a *domain.Article, opts enrichOptions, report *Report) (degraded bool, err error) {
	needsSummary := !a.SummaryProcessed
	needsCategory := !a.CategoryProcessed
	needsAd := !a.AdProcessed

	if !needsSummary && !needsCategory && !needsAd {
		return false, nil
	}

	report.Processed++

	content := strings.TrimSpace(a.Content)
	up := &db.EnrichmentUpdate{ArticleID: a.ID}

	v := p.filter.check(a.Title, content)
	if (!v.OK && v.Retryable()) || opts.forceExtract {
		if longer := p.reextract(ctx, a.URL, content); longer != "" {
			content = longer
			up.Content = &content
			v = p.filter.check(a.Title, content)
		}
	}

	if !v.OK {
		return false, p.applyFiltered(ctx, a, up, v, report)
	}

	newsDomain := p.cfg.IsNewsDomain(hostOf(a.URL))
	heuristic := llm.ScoreAdvertising(a.Title, content, a.URL, newsDomain)

	var analysis *llm.Analysis

	// A certain heuristic settles an ad-only article without a model call.
	if !(needsAd && !needsSummary && !needsCategory && heuristic.Certain()) {
		analysis, err = p.ai.AnalyzeArticleComplete(ctx, a.Title, a.URL, content)
		if err != nil {
			return false, err
		}

		report.APICalls++
	}

	if analysis != nil {
		if t := optimizedTitle(a.Title, analysis.OptimizedTitle); t != "" {
			up.Title = &t
		}

		if needsSummary {
			summary := strings.TrimSpace(analysis.Summary)
			if summary == "" {
				summary = a.Title
			}

			up.Summary = &summary
			up.SummaryProcessed = true
		}

		if needsCategory {
			up.Categories = rawCategories(a, content, analysis)
			up.CategoryProcessed = len(up.Categories) > 0
		}

		if a.PublishedAt == nil && analysis.PublicationDate != nil {
			up.PublishedAt = analysis.PublicationDate
		}
	}

	if needsAd {
		final := heuristic
		if analysis != nil {
			final = llm.CombineAdVerdicts(heuristic, analysis, newsDomain)
		}

		up.Ad = &db.AdUpdate{
			IsAdvertisement: final.IsAdvertisement,
			Confidence:      final.Confidence,
			Type:            final.Type,
			Reasoning:       final.Reasoning,
			Markers:         final.Markers,
		}
		up.AdProcessed = true

		if final.IsAdvertisement {
			observability.AdsDetected.WithLabelValues(adTypeLabel(final.Type)).Inc()
		}
	}

	if err := p.db.ApplyEnrichment(ctx, up); err != nil {
		return false, err
	}

	report.Enriched++
	observability.ArticlesProcessed.WithLabelValues("enriched").Inc()

	return analysis != nil && analysis.Fallback && p.ai.Enabled(), nil
}

// applyFiltered closes out an article the filter rejected: the title stands
// in for the summary, all requested stages are marked done so the article
// never re-enters the backlog.
func (p *Processor) applyFiltered(ctx context.Context, a *domain.Article, up *db.EnrichmentUpdate, v verdict, report *Report) error {
	summary := a.Title

	up.Summary = &summary
	up.SummaryProcessed = true
	up.CategoryProcessed = true
	up.Categories = fallbackCategories(a.ID, a.Title, a.Content)

	if !a.AdProcessed {
		up.Ad = &db.AdUpdate{Reasoning: "not analyzed: " + v.Reason}
		up.AdProcessed = true
	}

	if err := p.db.ApplyEnrichment(ctx, up); err != nil {
		return err
	}

	report.Filtered++
	observability.FilterDrops.WithLabelValues(v.Reason).Inc()
	observability.ArticlesProcessed.WithLabelValues("filtered").Inc()

	p.logger.Debug().
		Int64("article_id", a.ID).
		Str("reason", v.Reason).
		Msg("article filtered before ai")

	return nil
}

// reextract refetches the article page and returns the extracted content
// when it is strictly longer than what is stored; otherwise empty.
func (p *Processor) reextract(ctx context.Context, rawURL, current string) string {
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}

	if _, skip := reextractSkipHosts[strings.TrimPrefix(host, "www.")]; skip {
		return ""
	}

	res, err := p.extractor.ExtractArticle(ctx, rawURL)
	if err != nil || !res.Accepted {
		return ""
	}

	extracted := strings.TrimSpace(res.Content)
	if utf8.RuneCountInString(extracted) <= utf8.RuneCountInString(current) {
		return ""
	}

	return extracted
}

// rawCategories turns the model's labels into storage rows. Only the raw
// label and its confidence are persisted; binding to the display taxonomy
// happens when the article is read, so later mapping changes reach
// articles processed before them.
func rawCategories(a *domain.Article, content string, analysis *llm.Analysis) []domain.ArticleCategory {
	labels := analysis.Categories
	if len(labels) == 0 {
		labels = analysis.OriginalCategories
	}

	rows := categories.RawLabels(a.ID, labels, analysis.CategoryConfidences)
	if len(rows) == 0 {
		return fallbackCategories(a.ID, a.Title, content)
	}

	return rows
}

// fallbackCategories assigns a keyword-scored label when the model gave
// none; the filter path uses it too so every article ends up categorized.
func fallbackCategories(articleID int64, title, content string) []domain.ArticleCategory {
	name, confidence := categories.CategorizeByKeywords(title, content)

	return categories.RawLabels(articleID, []string{name}, []float32{confidence})
}

// optimizedTitle returns the model's title when it is a real improvement:
// non-empty, different from the current one, and within the column budget.
func optimizedTitle(current, proposed string) string {
	proposed = strings.TrimSpace(proposed)

	if proposed == "" || proposed == current {
		return ""
	}

	if utf8.RuneCountInString(proposed) > maxOptimizedTitle {
		return ""
	}

	return proposed
}

func adTypeLabel(adType string) string {
	if adType == "" {
		return "unknown"
	}

	return adType
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return strings.ToLower(u.Hostname())
}

func dedupeByID(articles []domain.Article) []domain.Article {
	seen := make(map[int64]struct{}, len(articles))
	out := articles[:0]

	for _, a := range articles {
		if _, dup := seen[a.ID]; dup {
			continue
		}

		seen[a.ID] = struct{}{}

		out = append(out, a)
	}

	return out
}
