package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// DomainMemoryRecord is the persisted snapshot of the extractor's learned
// state for one domain. MethodStats and Selectors are opaque JSON owned by
// the extractor.
type DomainMemoryRecord struct {
	Domain              string
	BestMethod          string
	MethodStats         []byte
	Selectors           []byte
	ConsecutiveFailures int
	AllFailedCount      int
	LastAllFailedAt     *time.Time
	LastAnalysisAt      *time.Time
	IsStable            bool
	UpdatedAt           time.Time
}

// UpsertDomainMemory stores the learned state for a domain.
func (db *DB) UpsertDomainMemory(ctx context.Context, rec *DomainMemoryRecord) error {
	stats := rawJSONB(rec.MethodStats, "{}")
	selectors := rawJSONB(rec.Selectors, "{}")

	_, err := db.Queue.Exec(ctx, `
		INSERT INTO domain_memory (domain, best_method, method_stats, selectors,
		                           consecutive_failures, all_failed_count,
		                           last_all_failed_at, last_analysis_at, is_stable, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (domain) DO UPDATE
		SET best_method = EXCLUDED.best_method,
			method_stats = EXCLUDED.method_stats,
			selectors = EXCLUDED.selectors,
			consecutive_failures = EXCLUDED.consecutive_failures,
			all_failed_count = EXCLUDED.all_failed_count,
			last_all_failed_at = EXCLUDED.last_all_failed_at,
			last_analysis_at = EXCLUDED.last_analysis_at,
			is_stable = EXCLUDED.is_stable,
			updated_at = now()
	`, rec.Domain, toText(rec.BestMethod), stats, selectors,
		safeIntToInt32(rec.ConsecutiveFailures), safeIntToInt32(rec.AllFailedCount),
		toTimestamptzPtr(rec.LastAllFailedAt), toTimestamptzPtr(rec.LastAnalysisAt), rec.IsStable)
	if err != nil {
		return fmt.Errorf("upsert domain memory: %w", err)
	}

	return nil
}

// GetDomainMemory returns the learned state for one domain, or nil when the
// domain was never seen.
func (db *DB) GetDomainMemory(ctx context.Context, domainName string) (*DomainMemoryRecord, error) {
	var rec *DomainMemoryRecord

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		r, err := scanDomainMemory(row)
		if err != nil {
			return err
		}

		rec = r

		return nil
	}, `
		SELECT domain, best_method, method_stats, selectors, consecutive_failures,
		       all_failed_count, last_all_failed_at, last_analysis_at, is_stable, updated_at
		FROM domain_memory
		WHERE domain = $1
	`, domainName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates an unseen domain
		}

		return nil, fmt.Errorf("get domain memory: %w", err)
	}

	return rec, nil
}

// ListDomainMemory returns all persisted domain records.
func (db *DB) ListDomainMemory(ctx context.Context) ([]DomainMemoryRecord, error) {
	records := []DomainMemoryRecord{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			rec, err := scanDomainMemory(rows)
			if err != nil {
				return fmt.Errorf("scan domain memory: %w", err)
			}

			records = append(records, *rec)
		}

		return rows.Err()
	}, `
		SELECT domain, best_method, method_stats, selectors, consecutive_failures,
		       all_failed_count, last_all_failed_at, last_analysis_at, is_stable, updated_at
		FROM domain_memory
		ORDER BY domain
	`)
	if err != nil {
		return nil, fmt.Errorf("list domain memory: %w", err)
	}

	return records, nil
}

// RecordExtractionAttempt appends one row to the extraction audit log.
func (db *DB) RecordExtractionAttempt(ctx context.Context, a *domain.ExtractionAttempt) error {
	_, err := db.Queue.Exec(ctx, `
		INSERT INTO extraction_attempts (article_url, domain, strategy, selector_used, success,
		                                 content_length, quality_score, extraction_time_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ArticleURL, a.Domain, a.Strategy, toText(a.SelectorUsed), a.Success,
		safeIntToInt32(a.ContentLength), a.QualityScore, a.ExtractionTimeMS, toText(a.ErrorMessage))
	if err != nil {
		return fmt.Errorf("record extraction attempt: %w", err)
	}

	return nil
}

// ExtractionStrategyStat aggregates the audit log per strategy.
type ExtractionStrategyStat struct {
	Strategy   string  `json:"strategy"`
	Attempts   int64   `json:"attempts"`
	Successes  int64   `json:"successes"`
	AvgQuality float64 `json:"avg_quality"`
	AvgTimeMS  float64 `json:"avg_time_ms"`
}

// ExtractionStats returns per-strategy success statistics for the last days,
// plus the count of domains considered stable.
func (db *DB) ExtractionStats(ctx context.Context, days int) ([]ExtractionStrategyStat, int64, error) {
	stats := []ExtractionStrategyStat{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var s ExtractionStrategyStat

			if err := rows.Scan(&s.Strategy, &s.Attempts, &s.Successes,
				&s.AvgQuality, &s.AvgTimeMS); err != nil {
				return fmt.Errorf("scan extraction stats: %w", err)
			}

			stats = append(stats, s)
		}

		return rows.Err()
	}, `
		SELECT strategy,
		       COUNT(*)::bigint,
		       COUNT(*) FILTER (WHERE success)::bigint,
		       COALESCE(AVG(quality_score), 0)::float8,
		       COALESCE(AVG(extraction_time_ms), 0)::float8
		FROM extraction_attempts
		WHERE created_at >= now() - $1 * interval '1 day'
		GROUP BY strategy
		ORDER BY strategy
	`, days)
	if err != nil {
		return nil, 0, fmt.Errorf("extraction stats: %w", err)
	}

	var stable int64

	err = db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&stable)
	}, `
		SELECT COUNT(*)::bigint
		FROM domain_memory
		WHERE is_stable
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("stable domain count: %w", err)
	}

	return stats, stable, nil
}

type domainMemoryRowScanner interface {
	Scan(dest ...any) error
}

func scanDomainMemory(row domainMemoryRowScanner) (*DomainMemoryRecord, error) {
	var (
		rec             DomainMemoryRecord
		bestMethod      pgtype.Text
		lastAllFailedAt pgtype.Timestamptz
		lastAnalysisAt  pgtype.Timestamptz
	)

	if err := row.Scan(
		&rec.Domain, &bestMethod, &rec.MethodStats, &rec.Selectors, &rec.ConsecutiveFailures,
		&rec.AllFailedCount, &lastAllFailedAt, &lastAnalysisAt, &rec.IsStable, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.BestMethod = fromText(bestMethod)
	rec.LastAllFailedAt = fromTimestamptzPtr(lastAllFailedAt)
	rec.LastAnalysisAt = fromTimestamptzPtr(lastAnalysisAt)

	return &rec, nil
}
