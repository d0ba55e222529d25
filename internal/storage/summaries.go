package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// UpsertDailySummary stores or replaces one per-category daily summary.
func (db *DB) UpsertDailySummary(ctx context.Context, s *domain.DailySummary) error {
	_, err := db.Queue.Exec(ctx, `
		INSERT INTO daily_summaries (date, category, summary_text, articles_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, category) DO UPDATE
		SET summary_text = EXCLUDED.summary_text,
			articles_count = EXCLUDED.articles_count,
			updated_at = now()
	`, toDateOnly(s.Date), s.Category, SanitizeUTF8(s.SummaryText), safeIntToInt32(s.ArticlesCount))
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}

	return nil
}

// DailySummaries returns the stored per-category summaries for a date.
func (db *DB) DailySummaries(ctx context.Context, date time.Time) ([]domain.DailySummary, error) {
	summaries := []domain.DailySummary{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var s domain.DailySummary

			if err := rows.Scan(&s.ID, &s.Date, &s.Category, &s.SummaryText,
				&s.ArticlesCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
				return fmt.Errorf("scan daily summary: %w", err)
			}

			summaries = append(summaries, s)
		}

		return rows.Err()
	}, `
		SELECT id, date, category, summary_text, articles_count, created_at, updated_at
		FROM daily_summaries
		WHERE date = $1
		ORDER BY category
	`, toDateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("daily summaries: %w", err)
	}

	return summaries, nil
}
