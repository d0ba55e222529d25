// Package categories maps free-form AI category labels onto the fixed
// display taxonomy. Resolution is a chain: operator-managed database
// mappings first, then the built-in default dictionary (exact, then
// partial), then the Other catch-all.
package categories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// Mapping source labels recorded on every resolution.
const (
	SourceDatabase       = "database"
	SourceDefaultExact   = "default_exact"
	SourceDefaultPartial = "default_partial"
	SourceFallback       = "fallback"
)

const (
	categoryCacheTTL = 5 * time.Minute
	usageBumpTimeout = 5 * time.Second
)

// Resolution is one AI label resolved to a fixed category. CategoryID is
// nil only when the taxonomy rows could not be loaded.
type Resolution struct {
	CategoryID    *int64
	Name          string
	DisplayName   string
	Color         string
	AICategory    string
	Confidence    float32
	MappingSource string
}

// Service resolves labels against the database and the default dictionary.
type Service struct {
	db     *db.DB
	logger *zerolog.Logger

	mu       sync.Mutex
	byName   map[string]domain.Category
	loadedAt time.Time
}

func New(db *db.DB, logger *zerolog.Logger) *Service {
	l := logger.With().Str("component", "categories").Logger()

	return &Service{
		db:     db,
		logger: &l,
	}
}

// ResolveAll resolves a label set, collapses duplicates onto the highest
// confidence and orders the result primary-first.
func (s *Service) ResolveAll(ctx context.Context, labels []string, confidences []float32) []Resolution {
	resolved := make([]Resolution, 0, len(labels))

	for i, label := range labels {
		confidence := float32(defaultLabelConfidence)
		if i < len(confidences) {
			confidence = confidences[i]
		}

		resolved = append(resolved, s.ResolveLabel(ctx, label, confidence))
	}

	collapsed := collapseResolutions(resolved)

	for _, r := range collapsed {
		observability.CategoriesAssigned.WithLabelValues(metricSource(r.MappingSource)).Inc()
	}

	return collapsed
}

const defaultLabelConfidence = 0.5

// ResolveLabel resolves one AI label through the full chain.
func (s *Service) ResolveLabel(ctx context.Context, label string, confidence float32) Resolution {
	label = strings.TrimSpace(label)

	name, source := s.resolveName(ctx, label, confidence)

	resolution := Resolution{
		Name:          name,
		AICategory:    label,
		Confidence:    confidence,
		MappingSource: source,
	}

	category, err := s.categoryByName(ctx, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("category", name).Msg("taxonomy lookup failed, keeping raw label")

		return resolution
	}

	resolution.CategoryID = &category.ID
	resolution.DisplayName = category.DisplayName
	resolution.Color = category.Color

	return resolution
}

func (s *Service) resolveName(ctx context.Context, label string, confidence float32) (string, string) {
	if label == "" {
		return domain.CategoryOther, SourceFallback
	}

	if mapping := s.lookupMapping(ctx, label); mapping != nil && confidence >= mapping.ConfidenceThreshold {
		s.bumpUsage(mapping.ID)

		return mapping.FixedCategory, SourceDatabase
	}

	if name, source, ok := resolveDefault(label); ok {
		return name, source
	}

	return domain.CategoryOther, SourceFallback
}

func (s *Service) lookupMapping(ctx context.Context, label string) *domain.CategoryMapping {
	mapping, err := s.db.GetActiveMapping(ctx, label)
	if err != nil {
		s.logger.Debug().Err(err).Str("label", label).Msg("mapping lookup failed")

		return nil
	}

	return mapping
}

// bumpUsage records a mapping hit without blocking resolution.
func (s *Service) bumpUsage(id int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageBumpTimeout)
		defer cancel()

		if err := s.db.BumpMappingUsage(ctx, id); err != nil {
			s.logger.Debug().Err(err).Int64("mapping_id", id).Msg("usage bump failed")
		}
	}()
}

// categoryByName serves taxonomy rows from a short-lived cache. The
// taxonomy is seeded at startup and effectively immutable, so a stale
// read is harmless.
func (s *Service) categoryByName(ctx context.Context, name string) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byName == nil || time.Since(s.loadedAt) > categoryCacheTTL {
		list, err := s.db.ListCategories(ctx)
		if err != nil {
			if s.byName == nil {
				return domain.Category{}, fmt.Errorf("load categories: %w", err)
			}

			s.logger.Warn().Err(err).Msg("category cache refresh failed, serving stale")
		} else {
			byName := make(map[string]domain.Category, len(list))
			for _, c := range list {
				byName[c.Name] = c
			}

			s.byName = byName
			s.loadedAt = time.Now()
		}
	}

	category, ok := s.byName[name]
	if !ok {
		return domain.Category{}, fmt.Errorf("unknown category %q", name)
	}

	return category, nil
}

// collapseResolutions keeps the highest-confidence resolution per fixed
// category and sorts primary-first.
func collapseResolutions(in []Resolution) []Resolution {
	best := make(map[string]int, len(in))
	out := make([]Resolution, 0, len(in))

	for _, r := range in {
		idx, seen := best[r.Name]
		if !seen {
			best[r.Name] = len(out)
			out = append(out, r)

			continue
		}

		if r.Confidence > out[idx].Confidence {
			out[idx] = r
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})

	return out
}

// RawLabels converts model output into storage rows. The raw label is
// persisted with no taxonomy binding, so mappings added later apply to
// already processed articles on the next read. Duplicate labels collapse
// case-insensitively onto the highest confidence.
func RawLabels(articleID int64, labels []string, confidences []float32) []domain.ArticleCategory {
	out := make([]domain.ArticleCategory, 0, len(labels))
	seen := make(map[string]int, len(labels))

	for i, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}

		confidence := float32(defaultLabelConfidence)
		if i < len(confidences) {
			confidence = clampConfidence(confidences[i])
		}

		key := strings.ToLower(label)

		if idx, dup := seen[key]; dup {
			if confidence > out[idx].Confidence {
				out[idx].AICategory = label
				out[idx].Confidence = confidence
			}

			continue
		}

		seen[key] = len(out)

		out = append(out, domain.ArticleCategory{
			ArticleID:  articleID,
			AICategory: label,
			Confidence: confidence,
		})
	}

	return out
}

func clampConfidence(c float32) float32 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func metricSource(source string) string {
	if i := strings.IndexByte(source, ':'); i > 0 {
		return source[:i]
	}

	return source
}
