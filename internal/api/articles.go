package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/core/domain"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// categoryLabel is one resolved category assignment as served to clients.
// Name, DisplayName and Color are empty only when the taxonomy could not
// be loaded and the raw label is served as-is.
type categoryLabel struct {
	CategoryID  *int64  `json:"category_id,omitempty"`
	Name        string  `json:"name,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Color       string  `json:"color,omitempty"`
	AICategory  string  `json:"ai_category,omitempty"`
	Confidence  float32 `json:"confidence"`
}

type categoryCount struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	Count       int64  `json:"count"`
}

type articleResponse struct {
	ID              int64              `json:"id"`
	SourceID        int64              `json:"source_id"`
	SourceName      string             `json:"source_name,omitempty"`
	SourceType      string             `json:"source_type,omitempty"`
	Title           string             `json:"title"`
	URL             string             `json:"url"`
	Summary         string             `json:"summary,omitempty"`
	Content         string             `json:"content,omitempty"`
	ImageURL        string             `json:"image_url,omitempty"`
	Media           []domain.MediaFile `json:"media,omitempty"`
	PublishedAt     *time.Time         `json:"published_at,omitempty"`
	FetchedAt       time.Time          `json:"fetched_at"`
	IsAdvertisement bool               `json:"is_advertisement"`
	AdConfidence    float32            `json:"ad_confidence,omitempty"`
	AdType          string             `json:"ad_type,omitempty"`
	Categories      []categoryLabel    `json:"categories"`
}

func toArticleResponse(a *domain.Article, labels []categoryLabel, detail bool) articleResponse {
	resp := articleResponse{
		ID:              a.ID,
		SourceID:        a.SourceID,
		SourceName:      a.SourceName,
		SourceType:      string(a.SourceType),
		Title:           a.Title,
		URL:             a.URL,
		Summary:         a.Summary,
		ImageURL:        a.ImageURL,
		PublishedAt:     a.PublishedAt,
		FetchedAt:       a.FetchedAt,
		IsAdvertisement: a.IsAdvertisement,
		AdConfidence:    a.AdConfidence,
		AdType:          a.AdType,
		Categories:      labels,
	}

	if resp.Categories == nil {
		resp.Categories = []categoryLabel{}
	}

	if detail {
		resp.Content = a.Content
		resp.Media = a.Media
	}

	return resp
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	filter := db.ArticleFilter{
		Limit:      clampLimit(queryInt(r, "limit", defaultFeedLimit)),
		Offset:     queryInt(r, "offset", 0),
		SinceHours: queryInt(r, "since_hours", 0),
		Source:     r.URL.Query().Get("source"),
		HideAds:    queryBool(r, "hide_ads"),
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filter.CategoryLabels = s.categoryFilterLabels(r.Context(), category)

		// No stored label currently resolves to this category.
		if len(filter.CategoryLabels) == 0 {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"articles": []articleResponse{},
				"count":    0,
				"limit":    filter.Limit,
				"offset":   filter.Offset,
			})

			return
		}
	}

	articles, err := s.db.ListArticles(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("feed query failed")
		s.writeError(w, http.StatusInternalServerError, "feed query failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"articles": s.withCategories(r, articles, false),
		"count":    len(articles),
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid article id")

		return
	}

	article, err := s.db.GetArticle(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("article_id", id).Msg("article query failed")
		s.writeError(w, http.StatusInternalServerError, "article query failed")

		return
	}

	if article == nil {
		s.writeError(w, http.StatusNotFound, "article not found")

		return
	}

	s.writeJSON(w, http.StatusOK, toArticleResponse(article, s.displayLabels(r.Context(), article.Categories), true))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	taxonomy, err := s.db.ListCategories(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("loading taxonomy failed")
		s.writeError(w, http.StatusInternalServerError, "category counts failed")

		return
	}

	labelCounts, ads, err := s.db.AILabelCounts(r.Context(), queryInt(r, "since_hours", 0))
	if err != nil {
		s.logger.Error().Err(err).Msg("category counts failed")
		s.writeError(w, http.StatusInternalServerError, "category counts failed")

		return
	}

	counts := mergeCategoryCounts(taxonomy, labelCounts, func(label string, confidence float32) categories.Resolution {
		return s.categories.ResolveLabel(r.Context(), label, confidence)
	})

	// Advertisements are filtered out of every category, so they surface
	// as their own pseudo-category.
	counts = append(counts, categoryCount{
		Name:        "advertisements",
		DisplayName: "Реклама",
		Color:       "#dc3545",
		Count:       ads,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{"categories": counts})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "missing query parameter q")

		return
	}

	filter := db.SearchFilter{
		Query:      query,
		Limit:      clampLimit(queryInt(r, "limit", defaultFeedLimit)),
		Offset:     queryInt(r, "offset", 0),
		SinceHours: queryInt(r, "since_hours", 0),
		Sort:       r.URL.Query().Get("sort"),
		HideAds:    queryBool(r, "hide_ads"),
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filter.CategoryLabels = s.categoryFilterLabels(r.Context(), category)

		if len(filter.CategoryLabels) == 0 {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"articles": []articleResponse{},
				"count":    0,
				"query":    query,
			})

			return
		}
	}

	articles, err := s.db.SearchArticles(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("search query failed")
		s.writeError(w, http.StatusInternalServerError, "search query failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"articles": s.withCategories(r, articles, false),
		"count":    len(articles),
		"query":    query,
	})
}

// withCategories attaches display category labels to a page of articles:
// one batched query for the stored raw labels, resolved against the
// current mapping state.
func (s *Server) withCategories(r *http.Request, articles []domain.Article, detail bool) []articleResponse {
	ids := make([]int64, 0, len(articles))
	for i := range articles {
		ids = append(ids, articles[i].ID)
	}

	stored, err := s.db.ArticleCategories(r.Context(), ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("loading categories failed")
	}

	out := make([]articleResponse, 0, len(articles))
	for i := range articles {
		out = append(out, toArticleResponse(&articles[i], s.displayLabels(r.Context(), stored[articles[i].ID]), detail))
	}

	return out
}

// displayLabels resolves one article's stored raw labels. Labels landing
// on the same display category are merged onto the highest confidence;
// the first element is the article's primary category.
func (s *Server) displayLabels(ctx context.Context, stored []domain.ArticleCategory) []categoryLabel {
	if len(stored) == 0 {
		return nil
	}

	labels := make([]string, 0, len(stored))
	confidences := make([]float32, 0, len(stored))

	for _, c := range stored {
		labels = append(labels, c.AICategory)
		confidences = append(confidences, c.Confidence)
	}

	resolved := s.categories.ResolveAll(ctx, labels, confidences)

	out := make([]categoryLabel, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, categoryLabel{
			CategoryID:  r.CategoryID,
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Color:       r.Color,
			AICategory:  r.AICategory,
			Confidence:  r.Confidence,
		})
	}

	return out
}

// categoryFilterLabels inverts the mapping for the feed and search
// filters: it returns the lowercased stored labels that resolve to the
// requested display category right now.
func (s *Server) categoryFilterLabels(ctx context.Context, category string) []string {
	counts, _, err := s.db.AILabelCounts(ctx, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("category", category).Msg("loading label counts failed")

		return nil
	}

	return labelsMatching(counts, category, func(label string, confidence float32) categories.Resolution {
		return s.categories.ResolveLabel(ctx, label, confidence)
	})
}

func labelsMatching(counts []db.LabelCount, category string, resolve func(string, float32) categories.Resolution) []string {
	matched := make([]string, 0, len(counts))

	for _, lc := range counts {
		if resolve(lc.AICategory, lc.Confidence).Name == category {
			matched = append(matched, strings.ToLower(lc.AICategory))
		}
	}

	return matched
}

// mergeCategoryCounts folds per-label counts into the fixed taxonomy.
// Counting stays per label, so an article whose labels collapse onto one
// display category contributes once per label.
func mergeCategoryCounts(taxonomy []domain.Category, counts []db.LabelCount, resolve func(string, float32) categories.Resolution) []categoryCount {
	totals := make(map[string]int64, len(taxonomy))

	for _, lc := range counts {
		totals[resolve(lc.AICategory, lc.Confidence).Name] += lc.Count
	}

	out := make([]categoryCount, 0, len(taxonomy)+1)
	for _, c := range taxonomy {
		out = append(out, categoryCount{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Color:       c.Color,
			Count:       totals[c.Name],
		})
	}

	return out
}
