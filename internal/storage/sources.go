package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

const sourceColumns = `id, name, source_type, url, enabled, config, fetch_interval_seconds,
	       last_fetch, last_success, last_error, error_count, created_at, updated_at`

// CreateSource inserts a new source and returns its id.
func (db *DB) CreateSource(ctx context.Context, src *domain.Source) (int64, error) {
	cfg, err := toJSONB(src.Config, "{}")
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}

	var id int64

	err = db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&id)
	}, `
		INSERT INTO sources (name, source_type, url, enabled, config, fetch_interval_seconds,
		                     last_error, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, SanitizeUTF8(src.Name), string(src.Type), src.URL, src.Enabled, cfg,
		int(src.FetchInterval.Seconds()), toText(src.LastError), safeIntToInt32(src.ErrorCount))
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}

	return id, nil
}

// GetSource returns a source by id, or nil when it does not exist.
func (db *DB) GetSource(ctx context.Context, id int64) (*domain.Source, error) {
	var src *domain.Source

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		s, err := scanSource(row)
		if err != nil {
			return err
		}

		src = s

		return nil
	}, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates the source does not exist
		}

		return nil, fmt.Errorf("get source: %w", err)
	}

	return src, nil
}

// ListSources returns all sources, optionally restricted to enabled ones.
func (db *DB) ListSources(ctx context.Context, enabledOnly bool) ([]domain.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
	`
	if enabledOnly {
		query += ` WHERE enabled`
	}

	query += ` ORDER BY id`

	sources := []domain.Source{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			src, err := scanSource(rows)
			if err != nil {
				return fmt.Errorf("scan source: %w", err)
			}

			sources = append(sources, *src)
		}

		return rows.Err()
	}, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	return sources, nil
}

// SourcesDueForFetch returns enabled sources whose fetch interval has elapsed.
func (db *DB) SourcesDueForFetch(ctx context.Context) ([]domain.Source, error) {
	sources := []domain.Source{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			src, err := scanSource(rows)
			if err != nil {
				return fmt.Errorf("scan source: %w", err)
			}

			sources = append(sources, *src)
		}

		return rows.Err()
	}, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE enabled
		  AND (last_fetch IS NULL OR last_fetch < now() - fetch_interval_seconds * interval '1 second')
		ORDER BY last_fetch NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("sources due for fetch: %w", err)
	}

	return sources, nil
}

// UpdateSource updates the mutable fields of a source.
func (db *DB) UpdateSource(ctx context.Context, src *domain.Source) error {
	cfg, err := toJSONB(src.Config, "{}")
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	_, err = db.Queue.Exec(ctx, `
		UPDATE sources
		SET name = $2,
			source_type = $3,
			url = $4,
			enabled = $5,
			config = $6,
			fetch_interval_seconds = $7,
			updated_at = now()
		WHERE id = $1
	`, src.ID, SanitizeUTF8(src.Name), string(src.Type), src.URL, src.Enabled, cfg,
		int(src.FetchInterval.Seconds()))
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	return nil
}

// DeleteSource removes a source. When cascade is true its articles are
// deleted in the same transaction; otherwise they are kept with a NULL
// source reference.
func (db *DB) DeleteSource(ctx context.Context, id int64, cascade bool) error {
	err := db.Queue.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if cascade {
			if _, err := tx.Exec(ctx, `DELETE FROM articles WHERE source_id = $1`, id); err != nil {
				return fmt.Errorf("delete source articles: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete source: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}

	return nil
}

// MarkSourceFetchStarted records that a fetch attempt has begun.
// last_fetch moves forward even when the fetch later fails, so a broken
// source does not get retried on every cycle.
func (db *DB) MarkSourceFetchStarted(ctx context.Context, id int64) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE sources
		SET last_fetch = now(),
			updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark source fetch started: %w", err)
	}

	return nil
}

// MarkSourceFetchSucceeded clears the error state after a successful fetch.
func (db *DB) MarkSourceFetchSucceeded(ctx context.Context, id int64) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE sources
		SET last_success = now(),
			last_error = NULL,
			error_count = 0,
			updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark source fetch succeeded: %w", err)
	}

	return nil
}

// MarkSourceFetchFailed records a fetch failure.
func (db *DB) MarkSourceFetchFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE sources
		SET last_error = $2,
			error_count = error_count + 1,
			updated_at = now()
		WHERE id = $1
	`, id, SanitizeUTF8(errMsg))
	if err != nil {
		return fmt.Errorf("mark source fetch failed: %w", err)
	}

	return nil
}

// SourceArticleCount is one row of the per-source statistics report.
type SourceArticleCount struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	ArticleCount int64  `json:"article_count"`
}

// SourceArticleCounts returns article counts per source, including sources
// with no articles yet.
func (db *DB) SourceArticleCounts(ctx context.Context) ([]SourceArticleCount, error) {
	counts := []SourceArticleCount{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var c SourceArticleCount

			if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Enabled, &c.ArticleCount); err != nil {
				return fmt.Errorf("scan source article count: %w", err)
			}

			counts = append(counts, c)
		}

		return rows.Err()
	}, `
		SELECT s.id, s.name, s.source_type, s.enabled, COUNT(a.id)::bigint
		FROM sources s
		LEFT JOIN articles a ON a.source_id = s.id
		GROUP BY s.id
		ORDER BY s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("source article counts: %w", err)
	}

	return counts, nil
}

type sourceRowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row sourceRowScanner) (*domain.Source, error) {
	var (
		src             domain.Source
		sourceType      string
		cfgJSON         []byte
		intervalSeconds int
		lastFetch       pgtype.Timestamptz
		lastSuccess     pgtype.Timestamptz
		lastError       pgtype.Text
	)

	if err := row.Scan(
		&src.ID, &src.Name, &sourceType, &src.URL, &src.Enabled, &cfgJSON, &intervalSeconds,
		&lastFetch, &lastSuccess, &lastError, &src.ErrorCount, &src.CreatedAt, &src.UpdatedAt,
	); err != nil {
		return nil, err
	}

	src.Type = domain.SourceType(sourceType)
	src.FetchInterval = time.Duration(intervalSeconds) * time.Second
	src.LastFetch = fromTimestamptzPtr(lastFetch)
	src.LastSuccess = fromTimestamptzPtr(lastSuccess)
	src.LastError = fromText(lastError)

	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &src.Config); err != nil {
			return nil, fmt.Errorf("unmarshal source config: %w", err)
		}
	}

	return &src, nil
}
