// Package pipeline orchestrates the aggregation stages: fetch due sources,
// enrich the backlog, record daily statistics, and ship the Telegram
// digest.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/ingest/sources"
	"github.com/lueurxax/news-aggregator/internal/output/digest"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/process/enrichment"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// DigestSender is the outbound side of digest delivery. Implemented by the
// Telegram bot facade; nil-able for installations without a bot token.
type DigestSender interface {
	SendDigest(ctx context.Context, parts []string) (int, error)
}

// CycleReport summarizes one full processing cycle.
type CycleReport struct {
	ArticlesFetched   int           `json:"articles_fetched"`
	ArticlesProcessed int           `json:"articles_processed"`
	ArticlesFiltered  int           `json:"articles_filtered"`
	APICalls          int           `json:"api_calls_made"`
	Errors            []string      `json:"errors,omitempty"`
	FetchDuration     time.Duration `json:"-"`
	EnrichDuration    time.Duration `json:"-"`
	TotalDuration     time.Duration `json:"-"`
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      *config.Config
	db       *db.DB
	sources  *sources.Manager
	enricher *enrichment.Processor
	digests  *digest.Builder
	sender   DigestSender
	logger   zerolog.Logger
}

func New(cfg *config.Config, database *db.DB, mgr *sources.Manager, enricher *enrichment.Processor, digests *digest.Builder, sender DigestSender, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		db:       database,
		sources:  mgr,
		enricher: enricher,
		digests:  digests,
		sender:   sender,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// RunFullCycle fetches all due sources, enriches the backlog and adds the
// cycle's counters to the daily statistics row. Stage failures are
// collected into the report; only a dead context aborts the cycle.
func (p *Pipeline) RunFullCycle(ctx context.Context) (*CycleReport, error) {
	started := time.Now()
	report := &CycleReport{}

	p.logger.Info().Msg("full processing cycle started")

	fetchStart := time.Now()

	fetched, err := p.sources.FetchDueSources(ctx)

	report.FetchDuration = time.Since(fetchStart)
	report.ArticlesFetched = fetched

	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Errors = append(report.Errors, fmt.Sprintf("fetch: %v", err))
	}

	enrichStart := time.Now()

	enrichReport, err := p.enricher.EnrichBacklog(ctx, p.cfg.EnrichLimit)

	report.EnrichDuration = time.Since(enrichStart)
	report.ArticlesProcessed = enrichReport.Enriched
	report.ArticlesFiltered = enrichReport.Filtered
	report.APICalls = enrichReport.APICalls
	report.Errors = append(report.Errors, enrichReport.Errors...)

	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Errors = append(report.Errors, fmt.Sprintf("enrich: %v", err))
	}

	report.TotalDuration = time.Since(started)

	if err := p.db.AddProcessingStats(ctx, &domain.ProcessingStat{
		Date:                  time.Now().UTC(),
		ArticlesFetched:       report.ArticlesFetched,
		ArticlesProcessed:     report.ArticlesProcessed,
		APICallsMade:          report.APICalls,
		ErrorsCount:           len(report.Errors),
		ProcessingTimeSeconds: report.TotalDuration.Seconds(),
	}); err != nil {
		p.logger.Error().Err(err).Msg("recording processing stats failed")
	}

	p.logger.Info().
		Int("fetched", report.ArticlesFetched).
		Int("processed", report.ArticlesProcessed).
		Int("filtered", report.ArticlesFiltered).
		Int("api_calls", report.APICalls).
		Int("errors", len(report.Errors)).
		Dur("fetch", report.FetchDuration).
		Dur("enrich", report.EnrichDuration).
		Dur("total", report.TotalDuration).
		Msg("full processing cycle finished")

	return report, nil
}

// SendTelegramDigest builds today's digest and delivers it. Daily summaries
// are generated first when missing. A partially delivered digest is
// reported as an error naming how far it got.
func (p *Pipeline) SendTelegramDigest(ctx context.Context) error {
	if p.sender == nil {
		return fmt.Errorf("telegram bot is not configured")
	}

	date := p.today()

	if err := p.digests.EnsureDailySummaries(ctx, date, false); err != nil {
		return fmt.Errorf("ensure daily summaries: %w", err)
	}

	parts, err := p.digests.BuildDigest(ctx, date)
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}

	sent, err := p.sender.SendDigest(ctx, parts)
	if err != nil {
		return fmt.Errorf("digest delivered partially, %d/%d parts: %w", sent, len(parts), err)
	}

	p.logger.Info().Int("parts", sent).Msg("digest sent")

	return nil
}

// GenerateDailySummaries regenerates the per-category summaries for a date.
func (p *Pipeline) GenerateDailySummaries(ctx context.Context, date time.Time, force bool) error {
	return p.digests.EnsureDailySummaries(ctx, date, force)
}

// ReprocessSuspects re-runs enrichment over articles with degenerate
// summaries.
func (p *Pipeline) ReprocessSuspects(ctx context.Context) (*enrichment.Report, error) {
	return p.enricher.ReprocessSuspects(ctx)
}

// ProcessingStats returns the stored daily counters plus a totals row.
func (p *Pipeline) ProcessingStats(ctx context.Context, days int) ([]domain.ProcessingStat, *domain.ProcessingStat, error) {
	stats, err := p.db.ProcessingStats(ctx, days)
	if err != nil {
		return nil, nil, err
	}

	totals := &domain.ProcessingStat{}

	for _, s := range stats {
		totals.ArticlesFetched += s.ArticlesFetched
		totals.ArticlesProcessed += s.ArticlesProcessed
		totals.APICallsMade += s.APICallsMade
		totals.ErrorsCount += s.ErrorsCount
		totals.ProcessingTimeSeconds += s.ProcessingTimeSeconds
	}

	return stats, totals, nil
}

// today is the digest date in the configured timezone.
func (p *Pipeline) today() time.Time {
	loc, err := time.LoadLocation(p.cfg.DefaultTimezone)
	if err != nil {
		loc = time.UTC
	}

	return time.Now().In(loc)
}
