package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// AddProcessingStats adds one cycle's counters to the daily row. Counters
// accumulate across cycles of the same date.
func (db *DB) AddProcessingStats(ctx context.Context, s *domain.ProcessingStat) error {
	_, err := db.Queue.Exec(ctx, `
		INSERT INTO processing_stats (date, articles_fetched, articles_processed, api_calls_made,
		                              errors_count, processing_time_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date) DO UPDATE
		SET articles_fetched = processing_stats.articles_fetched + EXCLUDED.articles_fetched,
			articles_processed = processing_stats.articles_processed + EXCLUDED.articles_processed,
			api_calls_made = processing_stats.api_calls_made + EXCLUDED.api_calls_made,
			errors_count = processing_stats.errors_count + EXCLUDED.errors_count,
			processing_time_seconds = processing_stats.processing_time_seconds + EXCLUDED.processing_time_seconds,
			updated_at = now()
	`, toDateOnly(s.Date), safeIntToInt32(s.ArticlesFetched), safeIntToInt32(s.ArticlesProcessed),
		safeIntToInt32(s.APICallsMade), safeIntToInt32(s.ErrorsCount), s.ProcessingTimeSeconds)
	if err != nil {
		return fmt.Errorf("add processing stats: %w", err)
	}

	return nil
}

// ProcessingStats returns the daily counters for the last days, newest first.
func (db *DB) ProcessingStats(ctx context.Context, days int) ([]domain.ProcessingStat, error) {
	stats := []domain.ProcessingStat{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var s domain.ProcessingStat

			if err := rows.Scan(&s.Date, &s.ArticlesFetched, &s.ArticlesProcessed,
				&s.APICallsMade, &s.ErrorsCount, &s.ProcessingTimeSeconds); err != nil {
				return fmt.Errorf("scan processing stats: %w", err)
			}

			stats = append(stats, s)
		}

		return rows.Err()
	}, `
		SELECT date, articles_fetched, articles_processed, api_calls_made,
		       errors_count, processing_time_seconds
		FROM processing_stats
		WHERE date >= CURRENT_DATE - $1::int
		ORDER BY date DESC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("processing stats: %w", err)
	}

	return stats, nil
}

// ArticleTotals is the dashboard snapshot of stored article counts.
type ArticleTotals struct {
	Total          int64 `json:"total"`
	Processed      int64 `json:"processed"`
	Advertisements int64 `json:"advertisements"`
	Last24h        int64 `json:"last_24h"`
	Sources        int64 `json:"sources"`
	ActiveSources  int64 `json:"active_sources"`
}

// ArticleTotals returns the aggregate counts shown on the dashboard.
func (db *DB) ArticleTotals(ctx context.Context) (*ArticleTotals, error) {
	var t ArticleTotals

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&t.Total, &t.Processed, &t.Advertisements, &t.Last24h,
			&t.Sources, &t.ActiveSources)
	}, `
		SELECT (SELECT COUNT(*)::bigint FROM articles),
		       (SELECT COUNT(*)::bigint FROM articles WHERE processed),
		       (SELECT COUNT(*)::bigint FROM articles WHERE is_advertisement),
		       (SELECT COUNT(*)::bigint FROM articles WHERE fetched_at >= now() - interval '24 hours'),
		       (SELECT COUNT(*)::bigint FROM sources),
		       (SELECT COUNT(*)::bigint FROM sources WHERE enabled)
	`)
	if err != nil {
		return nil, fmt.Errorf("article totals: %w", err)
	}

	return &t, nil
}

// toDateOnly normalizes a timestamp to its UTC calendar date for DATE columns.
func toDateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
