package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

const (
	fetchLimit            = 50
	defaultFetchInterval  = 30 * time.Minute
	recentTitleWindow     = 7 * 24 * time.Hour
	connectionTestTimeout = 30 * time.Second
)

// ErrSourceNotFound is returned when an operation references a source id
// that does not exist.
var ErrSourceNotFound = errors.New("source not found")

// SourceError wraps a fetch failure with the source it came from.
type SourceError struct {
	ID   int64
	Name string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q (id %d): %v", e.Name, e.ID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Manager drives fetch cycles over configured sources: it builds fetchers
// through the registry, deduplicates fetched items against stored articles
// and keeps per-source health bookkeeping.
type Manager struct {
	registry *Registry
	db       *db.DB
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewManager builds a source manager.
func NewManager(registry *Registry, database *db.DB, cfg *config.Config, logger zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		db:       database,
		cfg:      cfg,
		logger:   logger.With().Str("component", "source_manager").Logger(),
	}
}

// CreateSource validates and stores a new source. The connection is tested
// first; a source that fails the test is still created, but disabled and
// carrying the error, so the operator can fix and re-enable it.
func (m *Manager) CreateSource(ctx context.Context, src *domain.Source) (int64, error) {
	if !src.Type.Valid() {
		return 0, fmt.Errorf("%q: %w", src.Type, ErrUnsupportedType)
	}

	if err := validateSourceURL(src.Type, src.URL); err != nil {
		return 0, err
	}

	if src.FetchInterval <= 0 {
		src.FetchInterval = defaultFetchInterval
	}

	if err := m.testSource(ctx, src); err != nil {
		m.logger.Warn().Err(err).Str("source", src.Name).Msg("connection test failed, creating source disabled")

		src.Enabled = false
		src.LastError = "connection test failed: " + err.Error()
		src.ErrorCount = 1
	}

	id, err := m.db.CreateSource(ctx, src)
	if err != nil {
		return 0, err
	}

	src.ID = id

	m.logger.Info().
		Int64("id", id).
		Str("source", src.Name).
		Str("type", string(src.Type)).
		Bool("enabled", src.Enabled).
		Msg("source created")

	return id, nil
}

// TestSource runs the connection test for an existing source.
func (m *Manager) TestSource(ctx context.Context, id int64) error {
	src, err := m.db.GetSource(ctx, id)
	if err != nil {
		return err
	}

	if src == nil {
		return fmt.Errorf("id %d: %w", id, ErrSourceNotFound)
	}

	return m.testSource(ctx, src)
}

func (m *Manager) testSource(ctx context.Context, src *domain.Source) error {
	fetcher, err := m.registry.New(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	return fetcher.TestConnection(ctx)
}

// FetchSource fetches one source and stores the new items. last_fetch moves
// forward before the fetch so a crashing source is not retried in a tight
// loop. Returns the number of articles stored.
func (m *Manager) FetchSource(ctx context.Context, src *domain.Source) (int, error) {
	log := m.logger.With().Int64("source_id", src.ID).Str("source", src.Name).Logger()

	if err := m.db.MarkSourceFetchStarted(ctx, src.ID); err != nil {
		log.Warn().Err(err).Msg("mark fetch started")
	}

	fetcher, err := m.registry.New(src)
	if err != nil {
		m.recordFetchFailure(ctx, src, err)
		return 0, &SourceError{ID: src.ID, Name: src.Name, Err: err}
	}

	start := time.Now()

	items, err := fetcher.FetchArticles(ctx, fetchLimit)

	observability.FetchDuration.WithLabelValues(string(src.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		m.recordFetchFailure(ctx, src, err)
		return 0, &SourceError{ID: src.ID, Name: src.Name, Err: err}
	}

	stored := m.storeItems(ctx, src, items)

	if err := m.db.MarkSourceFetchSucceeded(ctx, src.ID); err != nil {
		log.Warn().Err(err).Msg("mark fetch succeeded")
	}

	observability.SourceFetches.WithLabelValues(string(src.Type), "ok").Inc()

	log.Info().Int("fetched", len(items)).Int("stored", stored).Msg("source fetched")

	return stored, nil
}

// FetchDueSources fetches the enabled sources whose interval has elapsed.
func (m *Manager) FetchDueSources(ctx context.Context) (int, error) {
	due, err := m.db.SourcesDueForFetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch due sources: %w", err)
	}

	return m.fetchMany(ctx, due)
}

// FetchFromAllSources fetches every enabled source regardless of schedule.
func (m *Manager) FetchFromAllSources(ctx context.Context) (int, error) {
	enabled, err := m.db.ListSources(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("fetch all sources: %w", err)
	}

	return m.fetchMany(ctx, enabled)
}

// fetchMany runs fetches with bounded concurrency. A failing source is
// logged and recorded on the source row; it never aborts the cycle.
func (m *Manager) fetchMany(ctx context.Context, srcs []domain.Source) (int, error) {
	if len(srcs) == 0 {
		return 0, nil
	}

	var stored atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FetchConcurrency)

	for i := range srcs {
		src := srcs[i]

		g.Go(func() error {
			n, err := m.FetchSource(ctx, &src)
			if err != nil {
				m.logger.Error().Err(err).Str("source", src.Name).Msg("source fetch failed")
				return nil
			}

			stored.Add(int64(n))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(stored.Load()), err
	}

	m.logger.Info().Int("sources", len(srcs)).Int64("stored", stored.Load()).Msg("fetch cycle finished")

	return int(stored.Load()), nil
}

func (m *Manager) recordFetchFailure(ctx context.Context, src *domain.Source, cause error) {
	observability.SourceFetches.WithLabelValues(string(src.Type), "error").Inc()

	if err := m.db.MarkSourceFetchFailed(ctx, src.ID, cause.Error()); err != nil {
		m.logger.Warn().Err(err).Int64("source_id", src.ID).Msg("mark fetch failed")
	}
}

func (m *Manager) storeItems(ctx context.Context, src *domain.Source, items []domain.NormalizedItem) int {
	stored := 0

	for i := range items {
		ok, err := m.storeItem(ctx, src, &items[i])
		if err != nil {
			m.logger.Warn().Err(err).Str("url", items[i].URL).Msg("store item")
			continue
		}

		if ok {
			stored++
		}
	}

	return stored
}

// storeItem persists one fetched item unless it is already known. Known
// means any URL variant is stored, or, for Telegram sources, the same title
// was seen from this source within the dedup window (channels repost the
// same item under fresh message URLs).
func (m *Manager) storeItem(ctx context.Context, src *domain.Source, item *domain.NormalizedItem) (bool, error) {
	existing, err := m.db.ExistingURLs(ctx, urlVariants(item))
	if err != nil {
		return false, err
	}

	if len(existing) > 0 {
		observability.ArticlesDeduplicated.Inc()
		return false, nil
	}

	if src.Type == domain.SourceTypeTelegram || src.Type == domain.SourceTypeTelegramAPI {
		dup, err := m.db.HasRecentTitle(ctx, src.ID, collapseWhitespace(item.Title), recentTitleWindow)
		if err != nil {
			return false, err
		}

		if dup {
			observability.ArticlesDeduplicated.Inc()
			return false, nil
		}
	}

	id, err := m.db.InsertArticle(ctx, articleFromItem(src, item))
	if err != nil {
		return false, err
	}

	if id == 0 {
		observability.ArticlesDeduplicated.Inc()
		return false, nil
	}

	observability.ArticlesIngested.WithLabelValues(string(src.Type)).Inc()

	return true, nil
}

// SourceStats is the operator overview: aggregate totals, per-source
// article counts and the source types this build can fetch.
type SourceStats struct {
	Totals         *db.ArticleTotals       `json:"totals"`
	Sources        []db.SourceArticleCount `json:"sources"`
	SupportedTypes []string                `json:"supported_types"`
}

// Stats collects the source statistics report.
func (m *Manager) Stats(ctx context.Context) (*SourceStats, error) {
	totals, err := m.db.ArticleTotals(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := m.db.SourceArticleCounts(ctx)
	if err != nil {
		return nil, err
	}

	return &SourceStats{
		Totals:         totals,
		Sources:        counts,
		SupportedTypes: m.registry.SupportedTypes(),
	}, nil
}

func articleFromItem(src *domain.Source, item *domain.NormalizedItem) *domain.Article {
	a := &domain.Article{
		SourceID:    src.ID,
		Title:       item.Title,
		URL:         item.URL,
		Content:     item.Content,
		ImageURL:    item.ImageURL,
		Media:       item.Media,
		Raw:         item.Raw,
		HashContent: contentHash(item.Title, item.URL),
	}

	if !item.PublishedAt.IsZero() {
		published := item.PublishedAt
		a.PublishedAt = &published
	}

	if item.Ad != nil {
		a.AdProcessed = true
		a.IsAdvertisement = item.Ad.IsAdvertisement
		a.AdConfidence = item.Ad.Confidence
		a.AdType = item.Ad.Type
		a.AdReasoning = item.Ad.Reasoning
		a.AdMarkers = item.Ad.Markers
	}

	return a
}

// urlVariants lists the URLs under which this item may already be stored:
// its own URL plus the Telegram message URL and the original article link
// carried in the raw payload, each with and without a trailing slash.
func urlVariants(item *domain.NormalizedItem) []string {
	seen := make(map[string]struct{})
	variants := make([]string, 0, 6)

	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}

		trimmed := strings.TrimRight(u, "/")
		if trimmed == "" {
			return
		}

		for _, v := range []string{u, trimmed, trimmed + "/"} {
			if _, dup := seen[v]; !dup {
				seen[v] = struct{}{}
				variants = append(variants, v)
			}
		}
	}

	add(item.URL)

	if item.Raw != nil {
		for _, key := range []string{"telegram_url", "original_link"} {
			if v, ok := item.Raw[key].(string); ok {
				add(v)
			}
		}
	}

	return variants
}

func contentHash(title, url string) string {
	sum := sha256.Sum256([]byte(title + ":" + url))
	return hex.EncodeToString(sum[:])
}
