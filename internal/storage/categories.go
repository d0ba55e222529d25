package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// ListCategories returns the fixed display taxonomy.
func (db *DB) ListCategories(ctx context.Context) ([]domain.Category, error) {
	categories := []domain.Category{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var c domain.Category

			if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Color); err != nil {
				return fmt.Errorf("scan category: %w", err)
			}

			categories = append(categories, c)
		}

		return rows.Err()
	}, `
		SELECT id, name, display_name, color
		FROM categories
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	return categories, nil
}

// GetCategoryByName returns a fixed category by name, or nil when unknown.
func (db *DB) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	var c domain.Category

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Color)
	}, `
		SELECT id, name, display_name, color
		FROM categories
		WHERE name = $1
	`, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates the category does not exist
		}

		return nil, fmt.Errorf("get category by name: %w", err)
	}

	return &c, nil
}

// LabelCount aggregates one stored AI label: how many processed
// non-advertisement articles carry it and the highest confidence seen.
// Labels group case-insensitively.
type LabelCount struct {
	AICategory string
	Confidence float32
	Count      int64
}

// AILabelCounts returns per-label article counts inside the window, plus
// the advertisement count for the pseudo-category. Callers resolve the raw
// labels against the taxonomy themselves; nothing here depends on the
// mapping state at write time.
func (db *DB) AILabelCounts(ctx context.Context, sinceHours int) ([]LabelCount, int64, error) {
	counts := []LabelCount{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var c LabelCount

			if err := rows.Scan(&c.AICategory, &c.Confidence, &c.Count); err != nil {
				return fmt.Errorf("scan label count: %w", err)
			}

			counts = append(counts, c)
		}

		return rows.Err()
	}, `
		SELECT MIN(ac.ai_category), MAX(ac.confidence), COUNT(DISTINCT ac.article_id)::bigint
		FROM article_categories ac
		JOIN articles a ON a.id = ac.article_id
		WHERE a.processed
		  AND NOT a.is_advertisement
		  AND COALESCE(ac.ai_category, '') <> ''
		  AND ($1 = 0 OR a.fetched_at >= now() - $1 * interval '1 hour')
		GROUP BY lower(ac.ai_category)
		ORDER BY 3 DESC, 1
	`, sinceHours)
	if err != nil {
		return nil, 0, fmt.Errorf("ai label counts: %w", err)
	}

	var ads int64

	err = db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&ads)
	}, `
		SELECT COUNT(*)::bigint
		FROM articles
		WHERE is_advertisement
		  AND ($1 = 0 OR fetched_at >= now() - $1 * interval '1 hour')
	`, sinceHours)
	if err != nil {
		return nil, 0, fmt.Errorf("advertisement count: %w", err)
	}

	return counts, ads, nil
}

// GetActiveMapping returns the active operator mapping for an AI label
// (case-insensitive), or nil when none exists.
func (db *DB) GetActiveMapping(ctx context.Context, aiCategory string) (*domain.CategoryMapping, error) {
	var (
		m        domain.CategoryMapping
		lastUsed pgtype.Timestamptz
	)

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&m.ID, &m.AICategory, &m.FixedCategory, &m.ConfidenceThreshold,
			&m.IsActive, &m.UsageCount, &lastUsed)
	}, `
		SELECT id, ai_category, fixed_category, confidence_threshold, is_active, usage_count, last_used
		FROM category_mappings
		WHERE lower(ai_category) = lower($1)
		  AND is_active
	`, aiCategory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates no mapping for this label
		}

		return nil, fmt.Errorf("get active mapping: %w", err)
	}

	m.LastUsed = fromTimestamptzPtr(lastUsed)

	return &m, nil
}

// BumpMappingUsage increments a mapping's usage counter.
func (db *DB) BumpMappingUsage(ctx context.Context, id int64) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE category_mappings
		SET usage_count = usage_count + 1,
			last_used = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("bump mapping usage: %w", err)
	}

	return nil
}

// ArticleCategories returns the stored raw category assignments per
// article, highest confidence first. Display mapping is a read-time
// concern of the callers.
func (db *DB) ArticleCategories(ctx context.Context, articleIDs []int64) (map[int64][]domain.ArticleCategory, error) {
	cats := map[int64][]domain.ArticleCategory{}

	if len(articleIDs) == 0 {
		return cats, nil
	}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var (
				c          domain.ArticleCategory
				categoryID pgtype.Int8
				aiCategory pgtype.Text
			)

			if err := rows.Scan(&c.ID, &c.ArticleID, &categoryID, &aiCategory,
				&c.Confidence, &c.CreatedAt); err != nil {
				return fmt.Errorf("scan article category: %w", err)
			}

			if categoryID.Valid {
				c.CategoryID = &categoryID.Int64
			}

			c.AICategory = fromText(aiCategory)
			cats[c.ArticleID] = append(cats[c.ArticleID], c)
		}

		return rows.Err()
	}, `
		SELECT id, article_id, category_id, ai_category, confidence, created_at
		FROM article_categories
		WHERE article_id = ANY($1)
		ORDER BY article_id, confidence DESC, id
	`, articleIDs)
	if err != nil {
		return nil, fmt.Errorf("article categories: %w", err)
	}

	return cats, nil
}
