package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// placeholder covers source types that can be configured ahead of their
// implementation. The connection test only checks the URL shape; fetching
// yields nothing.
type placeholder struct {
	src    *domain.Source
	logger zerolog.Logger
}

func newPlaceholder(src *domain.Source, deps Deps) Fetcher {
	return &placeholder{
		src:    src,
		logger: deps.Logger.With().Str("component", "placeholder").Str("source", src.Name).Logger(),
	}
}

func (p *placeholder) FetchArticles(_ context.Context, _ int) ([]domain.NormalizedItem, error) {
	p.logger.Debug().Str("type", string(p.src.Type)).Msg("source type not implemented yet, nothing fetched")
	return nil, nil
}

func (p *placeholder) TestConnection(_ context.Context) error {
	return validateSourceURL(p.src.Type, p.src.URL)
}

// validateSourceURL checks that a source URL has the expected shape for its
// type.
func validateSourceURL(t domain.SourceType, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	lower := strings.ToLower(rawURL)

	ok := true

	switch t {
	case domain.SourceTypeReddit:
		ok = strings.Contains(lower, "reddit.com")
	case domain.SourceTypeTwitter:
		ok = strings.Contains(lower, "twitter.com") || strings.Contains(lower, "x.com")
	case domain.SourceTypeNewsAPI, domain.SourceTypeCustom:
		ok = strings.HasPrefix(lower, "http")
	default:
		ok = len(rawURL) >= 5
	}

	if !ok {
		return fmt.Errorf("%s source %q: %w", t, rawURL, ErrInvalidSourceURL)
	}

	return nil
}
