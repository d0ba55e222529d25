// Package sources turns configured feeds into normalized article items. A
// registry maps source types to fetcher factories; the manager drives fetch
// cycles, deduplicates against stored articles and persists what is new.
//
// Telegram fetchers live in their own packages (they carry heavier
// dependencies) and are registered by the caller through Register.
package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/extract"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// ErrUnsupportedType is returned for source types without a registered
// fetcher factory.
var ErrUnsupportedType = errors.New("unsupported source type")

// ErrInvalidSourceURL is returned when a source URL fails the shape check
// for its type.
var ErrInvalidSourceURL = errors.New("invalid source URL")

// Fetcher pulls items from one configured source.
type Fetcher interface {
	// FetchArticles returns up to limit normalized items, newest batch the
	// source currently exposes. limit <= 0 means no cap.
	FetchArticles(ctx context.Context, limit int) ([]domain.NormalizedItem, error)
	// TestConnection verifies the source is reachable and parseable.
	TestConnection(ctx context.Context) error
}

// Deps carries the shared infrastructure handed to fetcher factories.
type Deps struct {
	Config    *config.Config
	Client    *httpclient.Client
	Extractor *extract.Extractor
	AI        *llm.Client
	DB        *db.DB
	Logger    zerolog.Logger
}

// Factory builds a fetcher bound to one source.
type Factory func(src *domain.Source, deps Deps) Fetcher

// Registry maps source types to fetcher factories.
type Registry struct {
	deps      Deps
	factories map[domain.SourceType]Factory
}

// NewRegistry builds a registry with the built-in fetchers registered.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		deps:      deps,
		factories: make(map[domain.SourceType]Factory),
	}

	r.Register(domain.SourceTypeRSS, newRSSFetcher)
	r.Register(domain.SourceTypeGenericPage, newPageMonitor)
	r.Register(domain.SourceTypeReddit, newPlaceholder)
	r.Register(domain.SourceTypeTwitter, newPlaceholder)
	r.Register(domain.SourceTypeNewsAPI, newPlaceholder)
	r.Register(domain.SourceTypeCustom, newPlaceholder)

	return r
}

// Register adds or replaces the factory for a source type.
func (r *Registry) Register(t domain.SourceType, f Factory) {
	r.factories[t] = f
}

// Supports reports whether a fetcher factory exists for the type.
func (r *Registry) Supports(t domain.SourceType) bool {
	_, ok := r.factories[t]
	return ok
}

// SupportedTypes lists the registered source types in stable order.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, string(t))
	}

	sort.Strings(types)

	return types
}

// New builds a fetcher for the source.
func (r *Registry) New(src *domain.Source) (Fetcher, error) {
	factory, ok := r.factories[src.Type]
	if !ok {
		return nil, fmt.Errorf("%q: %w", src.Type, ErrUnsupportedType)
	}

	return factory(src, r.deps), nil
}
