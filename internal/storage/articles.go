package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

const articleColumns = `a.id, a.source_id, s.name, s.source_type, a.title, a.url, a.content,
	       a.summary, a.image_url, a.media_files, a.raw, a.published_at, a.fetched_at, a.hash_content,
	       a.summary_processed, a.category_processed, a.ad_processed, a.processed,
	       a.is_advertisement, a.ad_confidence, a.ad_type, a.ad_reasoning, a.ad_markers`

const articleFrom = `
		FROM articles a
		LEFT JOIN sources s ON s.id = a.source_id`

// InsertArticle stores a new article, including any advertising verdict the
// fetcher already produced. It returns (0, nil) when an article with the
// same URL already exists.
func (db *DB) InsertArticle(ctx context.Context, a *domain.Article) (int64, error) {
	media, err := toJSONB(a.Media, "[]")
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	raw, err := toJSONB(a.Raw, "{}")
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	markers, err := toJSONB(a.AdMarkers, "[]")
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	var id int64

	err = db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&id)
	}, `
		INSERT INTO articles (source_id, title, url, content, summary, image_url, media_files,
		                      raw, published_at, hash_content, ad_processed,
		                      is_advertisement, ad_confidence, ad_type, ad_reasoning, ad_markers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (url) DO NOTHING
		RETURNING id
	`, nullableID(a.SourceID), toText(a.Title), a.URL, toText(a.Content), toText(a.Summary),
		toText(a.ImageURL), media, raw, toTimestamptzPtr(a.PublishedAt), toText(a.HashContent),
		a.AdProcessed, a.IsAdvertisement, a.AdConfidence, toText(a.AdType), toText(a.AdReasoning), markers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("insert article: %w", err)
	}

	return id, nil
}

// ExistingURLs reports which of the given URLs are already stored.
func (db *DB) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := map[string]struct{}{}

	if len(urls) == 0 {
		return existing, nil
	}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			var u string

			if err := rows.Scan(&u); err != nil {
				return fmt.Errorf("scan url: %w", err)
			}

			existing[u] = struct{}{}
		}

		return rows.Err()
	}, `
		SELECT url
		FROM articles
		WHERE url = ANY($1)
	`, urls)
	if err != nil {
		return nil, fmt.Errorf("existing urls: %w", err)
	}

	return existing, nil
}

// HasRecentTitle reports whether the source already produced an article with
// the same title (case-insensitive) inside the dedup window.
func (db *DB) HasRecentTitle(ctx context.Context, sourceID int64, title string, window time.Duration) (bool, error) {
	var exists bool

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&exists)
	}, `
		SELECT EXISTS (
			SELECT 1
			FROM articles
			WHERE source_id = $1
			  AND lower(title) = lower($2)
			  AND fetched_at >= now() - $3 * interval '1 second'
		)
	`, sourceID, SanitizeUTF8(title), int64(window.Seconds()))
	if err != nil {
		return false, fmt.Errorf("has recent title: %w", err)
	}

	return exists, nil
}

// HasRecentContentHash reports whether an article with the same content hash
// was stored inside the dedup window.
func (db *DB) HasRecentContentHash(ctx context.Context, hash string, window time.Duration) (bool, error) {
	var exists bool

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&exists)
	}, `
		SELECT EXISTS (
			SELECT 1
			FROM articles
			WHERE hash_content = $1
			  AND fetched_at >= now() - $2 * interval '1 second'
		)
	`, hash, int64(window.Seconds()))
	if err != nil {
		return false, fmt.Errorf("has recent content hash: %w", err)
	}

	return exists, nil
}

// GetArticle returns one article with its category assignments, or nil when
// it does not exist.
func (db *DB) GetArticle(ctx context.Context, id int64) (*domain.Article, error) {
	var article *domain.Article

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		a, err := scanArticle(row)
		if err != nil {
			return err
		}

		article = a

		return nil
	}, `
		SELECT `+articleColumns+articleFrom+`
		WHERE a.id = $1
	`, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates the article does not exist
		}

		return nil, fmt.Errorf("get article: %w", err)
	}

	cats, err := db.ArticleCategories(ctx, []int64{id})
	if err != nil {
		return nil, err
	}

	article.Categories = cats[id]

	return article, nil
}

// ArticleFilter restricts ListArticles results. CategoryLabels carries the
// lowercased raw AI labels that currently resolve to the requested display
// category; an empty slice means no category filter.
type ArticleFilter struct {
	Limit          int
	Offset         int
	SinceHours     int
	CategoryLabels []string
	Source         string
	HideAds        bool
}

// ListArticles returns the newest articles matching the filter,
// ordered by publication date with fetch time as fallback.
func (db *DB) ListArticles(ctx context.Context, f ArticleFilter) ([]domain.Article, error) {
	conds := []string{}
	args := []any{}

	if f.SinceHours > 0 {
		args = append(args, f.SinceHours)
		conds = append(conds, fmt.Sprintf("a.fetched_at >= now() - $%d * interval '1 hour'", len(args)))
	}

	if len(f.CategoryLabels) > 0 {
		args = append(args, f.CategoryLabels)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1
			FROM article_categories ac
			WHERE ac.article_id = a.id AND lower(ac.ai_category) = ANY($%d)
		)`, len(args)))
	}

	if f.Source != "" {
		args = append(args, f.Source)
		conds = append(conds, fmt.Sprintf("s.name = $%d", len(args)))
	}

	if f.HideAds {
		conds = append(conds, "NOT a.is_advertisement")
	}

	query := `SELECT ` + articleColumns + articleFrom
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}

	query += "\n\t\tORDER BY COALESCE(a.published_at, a.fetched_at) DESC, a.id DESC"

	args = append(args, f.Limit)
	query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))

	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	articles, err := db.queryArticles(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	return articles, nil
}

// SearchFilter restricts SearchArticles results. Sort is "relevance"
// (default) or "date". CategoryLabels works as in ArticleFilter.
type SearchFilter struct {
	Query          string
	Limit          int
	Offset         int
	CategoryLabels []string
	SinceHours     int
	Sort           string
	HideAds        bool
}

// SearchArticles finds articles containing every word of the query in the
// title, summary or content. Relevance weighs title matches 3, summary
// matches 2 and content matches 1 per word.
func (db *DB) SearchArticles(ctx context.Context, f SearchFilter) ([]domain.Article, error) {
	words := strings.Fields(f.Query)
	if len(words) == 0 {
		return []domain.Article{}, nil
	}

	conds := []string{}
	args := []any{}
	relevance := make([]string, 0, len(words))

	for _, w := range words {
		args = append(args, "%"+w+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(a.title ILIKE $%d OR a.summary ILIKE $%d OR a.content ILIKE $%d)", n, n, n))
		relevance = append(relevance, fmt.Sprintf(
			"(CASE WHEN a.title ILIKE $%d THEN 3 ELSE 0 END"+
				" + CASE WHEN a.summary ILIKE $%d THEN 2 ELSE 0 END"+
				" + CASE WHEN a.content ILIKE $%d THEN 1 ELSE 0 END)", n, n, n))
	}

	if f.SinceHours > 0 {
		args = append(args, f.SinceHours)
		conds = append(conds, fmt.Sprintf("a.fetched_at >= now() - $%d * interval '1 hour'", len(args)))
	}

	if len(f.CategoryLabels) > 0 {
		args = append(args, f.CategoryLabels)
		conds = append(conds, fmt.Sprintf(`EXISTS (
			SELECT 1
			FROM article_categories ac
			WHERE ac.article_id = a.id AND lower(ac.ai_category) = ANY($%d)
		)`, len(args)))
	}

	if f.HideAds {
		conds = append(conds, "NOT a.is_advertisement")
	}

	query := `SELECT ` + articleColumns + articleFrom +
		"\n\t\tWHERE " + strings.Join(conds, " AND ")

	if f.Sort == "date" {
		query += "\n\t\tORDER BY COALESCE(a.published_at, a.fetched_at) DESC, a.id DESC"
	} else {
		query += "\n\t\tORDER BY " + strings.Join(relevance, " + ") + " DESC, a.fetched_at DESC"
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))

	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	articles, err := db.queryArticles(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	return articles, nil
}

// UnprocessedArticles returns the newest articles that still need AI
// processing.
func (db *DB) UnprocessedArticles(ctx context.Context, limit int) ([]domain.Article, error) {
	articles, err := db.queryArticles(ctx, `
		SELECT `+articleColumns+articleFrom+`
		WHERE NOT a.processed
		ORDER BY a.fetched_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unprocessed articles: %w", err)
	}

	return articles, nil
}

// CountUnprocessedArticles returns the enrichment backlog size.
func (db *DB) CountUnprocessedArticles(ctx context.Context) (int64, error) {
	var count int64

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&count)
	}, `
		SELECT COUNT(*)::bigint
		FROM articles
		WHERE NOT processed
	`)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed articles: %w", err)
	}

	return count, nil
}

// ArticlesForDigest returns processed, non-advertisement articles fetched
// inside the window.
func (db *DB) ArticlesForDigest(ctx context.Context, since, until time.Time) ([]domain.Article, error) {
	articles, err := db.queryArticles(ctx, `
		SELECT `+articleColumns+articleFrom+`
		WHERE a.processed
		  AND NOT a.is_advertisement
		  AND a.fetched_at >= $1
		  AND a.fetched_at < $2
		ORDER BY COALESCE(a.published_at, a.fetched_at) DESC, a.id DESC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("articles for digest: %w", err)
	}

	return articles, nil
}

// AdUpdate carries the advertisement verdict of one enrichment pass.
type AdUpdate struct {
	IsAdvertisement bool
	Confidence      float32
	Type            string
	Reasoning       string
	Markers         []string
}

// EnrichmentUpdate is the atomic result of processing one article.
// Nil pointers leave the corresponding column untouched. Flags are merged
// with OR so completed stages never regress.
type EnrichmentUpdate struct {
	ArticleID   int64
	Title       *string
	Summary     *string
	Content     *string
	PublishedAt *time.Time
	Ad          *AdUpdate
	Categories  []domain.ArticleCategory

	SummaryProcessed  bool
	CategoryProcessed bool
	AdProcessed       bool
}

// ApplyEnrichment commits the result of one article's AI processing in a
// single transaction: summary, ad verdict, category assignments and the
// processing flags all land together or not at all.
func (db *DB) ApplyEnrichment(ctx context.Context, up *EnrichmentUpdate) error {
	err := db.Queue.InTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE articles
			SET title = COALESCE($2, title),
				summary = COALESCE($3, summary),
				content = COALESCE($4, content),
				published_at = COALESCE($5, published_at),
				summary_processed = summary_processed OR $6,
				category_processed = category_processed OR $7,
				ad_processed = ad_processed OR $8
			WHERE id = $1
		`, up.ArticleID, textPtr(up.Title), textPtr(up.Summary), textPtr(up.Content), toTimestamptzPtr(up.PublishedAt),
			up.SummaryProcessed, up.CategoryProcessed, up.AdProcessed); err != nil {
			return fmt.Errorf("update article: %w", err)
		}

		if up.Ad != nil {
			markers, err := toJSONB(up.Ad.Markers, "[]")
			if err != nil {
				return fmt.Errorf("marshal ad markers: %w", err)
			}

			if _, err := tx.Exec(ctx, `
				UPDATE articles
				SET is_advertisement = $2,
					ad_confidence = $3,
					ad_type = $4,
					ad_reasoning = $5,
					ad_markers = $6
				WHERE id = $1
			`, up.ArticleID, up.Ad.IsAdvertisement, up.Ad.Confidence,
				toText(up.Ad.Type), toText(up.Ad.Reasoning), markers); err != nil {
				return fmt.Errorf("update ad verdict: %w", err)
			}
		}

		if up.CategoryProcessed {
			if err := replaceArticleCategories(ctx, tx, up.ArticleID, up.Categories); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE articles
			SET processed = processed OR (summary_processed AND category_processed AND ad_processed)
			WHERE id = $1
		`, up.ArticleID); err != nil {
			return fmt.Errorf("update processed flag: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("apply enrichment for article %d: %w", up.ArticleID, err)
	}

	return nil
}

// replaceArticleCategories stores the raw label rows for one article.
// category_id stays NULL on insert: labels bind to the display taxonomy
// when they are read, never when they are written.
func replaceArticleCategories(ctx context.Context, tx pgx.Tx, articleID int64, cats []domain.ArticleCategory) error {
	if _, err := tx.Exec(ctx, `DELETE FROM article_categories WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("clear article categories: %w", err)
	}

	for _, c := range cats {
		if _, err := tx.Exec(ctx, `
			INSERT INTO article_categories (article_id, ai_category, confidence)
			VALUES ($1, $2, $3)
		`, articleID, toText(c.AICategory), c.Confidence); err != nil {
			return fmt.Errorf("insert article category: %w", err)
		}
	}

	return nil
}

// UpdateArticlePublishedAt sets the publication date recovered after insert.
func (db *DB) UpdateArticlePublishedAt(ctx context.Context, id int64, publishedAt time.Time) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE articles
		SET published_at = $2
		WHERE id = $1
	`, id, publishedAt)
	if err != nil {
		return fmt.Errorf("update article published at: %w", err)
	}

	return nil
}

// MarkSuspectSummariesUnprocessed flags processed articles whose summary
// degenerated to the title, or whose content is too short to have produced
// a useful summary, for another enrichment pass.
func (db *DB) MarkSuspectSummariesUnprocessed(ctx context.Context) (int64, error) {
	tag, err := db.Queue.Exec(ctx, `
		UPDATE articles
		SET summary_processed = FALSE,
			processed = FALSE
		WHERE processed
		  AND (title = summary OR length(COALESCE(content, '')) < 1000)
	`)
	if err != nil {
		return 0, fmt.Errorf("mark suspect summaries unprocessed: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (db *DB) queryArticles(ctx context.Context, query string, args ...any) ([]domain.Article, error) {
	articles := []domain.Article{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			a, err := scanArticle(rows)
			if err != nil {
				return fmt.Errorf("scan article: %w", err)
			}

			articles = append(articles, *a)
		}

		return rows.Err()
	}, query, args...)
	if err != nil {
		return nil, err
	}

	return articles, nil
}

type articleRowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row articleRowScanner) (*domain.Article, error) {
	var (
		a           domain.Article
		sourceID    pgtype.Int8
		sourceName  pgtype.Text
		sourceType  pgtype.Text
		title       pgtype.Text
		content     pgtype.Text
		summary     pgtype.Text
		imageURL    pgtype.Text
		mediaJSON   []byte
		rawJSON     []byte
		publishedAt pgtype.Timestamptz
		hashContent pgtype.Text
		adType      pgtype.Text
		adReasoning pgtype.Text
		markersJSON []byte
	)

	if err := row.Scan(
		&a.ID, &sourceID, &sourceName, &sourceType, &title, &a.URL, &content,
		&summary, &imageURL, &mediaJSON, &rawJSON, &publishedAt, &a.FetchedAt, &hashContent,
		&a.SummaryProcessed, &a.CategoryProcessed, &a.AdProcessed, &a.Processed,
		&a.IsAdvertisement, &a.AdConfidence, &adType, &adReasoning, &markersJSON,
	); err != nil {
		return nil, err
	}

	if sourceID.Valid {
		a.SourceID = sourceID.Int64
	}

	a.SourceName = fromText(sourceName)
	a.SourceType = domain.SourceType(fromText(sourceType))
	a.Title = fromText(title)
	a.Content = fromText(content)
	a.Summary = fromText(summary)
	a.ImageURL = fromText(imageURL)
	a.PublishedAt = fromTimestamptzPtr(publishedAt)
	a.HashContent = fromText(hashContent)
	a.AdType = fromText(adType)
	a.AdReasoning = fromText(adReasoning)

	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &a.Media); err != nil {
			return nil, fmt.Errorf("unmarshal media files: %w", err)
		}
	}

	if len(rawJSON) > 0 && string(rawJSON) != "{}" {
		if err := json.Unmarshal(rawJSON, &a.Raw); err != nil {
			return nil, fmt.Errorf("unmarshal raw payload: %w", err)
		}
	}

	if len(markersJSON) > 0 {
		if err := json.Unmarshal(markersJSON, &a.AdMarkers); err != nil {
			return nil, fmt.Errorf("unmarshal ad markers: %w", err)
		}
	}

	return &a, nil
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

func textPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}

	return pgtype.Text{String: SanitizeUTF8(*s), Valid: true}
}
