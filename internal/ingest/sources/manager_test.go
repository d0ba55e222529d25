package sources

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

func TestURLVariants(t *testing.T) {
	item := &domain.NormalizedItem{
		URL: "https://news.example.com/story/",
		Raw: map[string]any{
			"telegram_url":  "https://t.me/chan/42",
			"original_link": "https://news.example.com/story",
		},
	}

	got := urlVariants(item)

	want := map[string]struct{}{
		"https://news.example.com/story/": {},
		"https://news.example.com/story":  {},
		"https://t.me/chan/42":            {},
		"https://t.me/chan/42/":           {},
	}

	if len(got) != len(want) {
		t.Fatalf("variants = %v, want %d distinct", got, len(want))
	}

	for _, v := range got {
		if _, ok := want[v]; !ok {
			t.Errorf("unexpected variant %q", v)
		}
	}

	bare := urlVariants(&domain.NormalizedItem{URL: "https://example.com/a"})
	if len(bare) != 2 {
		t.Errorf("bare variants = %v, want url with and without trailing slash", bare)
	}
}

func TestArticleFromItem(t *testing.T) {
	src := &domain.Source{ID: 7, Type: domain.SourceTypeTelegram}
	published := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	item := &domain.NormalizedItem{
		Title:       "Channel post",
		URL:         "https://t.me/chan/42",
		Content:     "body",
		PublishedAt: published,
		Raw:         map[string]any{"channel": "chan"},
		Ad: &domain.AdAssessment{
			IsAdvertisement: true,
			Confidence:      0.8,
			Type:            "promo",
			Reasoning:       "promo code in text",
			Markers:         []string{"промокод"},
		},
	}

	a := articleFromItem(src, item)

	if a.SourceID != 7 {
		t.Errorf("source id = %d, want 7", a.SourceID)
	}

	if a.PublishedAt == nil || !a.PublishedAt.Equal(published) {
		t.Errorf("published = %v, want %v", a.PublishedAt, published)
	}

	if !a.AdProcessed || !a.IsAdvertisement || a.AdType != "promo" || a.AdConfidence != 0.8 {
		t.Errorf("ad verdict not carried over: %+v", a)
	}

	if a.HashContent != contentHash("Channel post", "https://t.me/chan/42") {
		t.Errorf("hash = %q", a.HashContent)
	}

	if a.Raw["channel"] != "chan" {
		t.Errorf("raw payload = %v", a.Raw)
	}

	plain := articleFromItem(src, &domain.NormalizedItem{Title: "x", URL: "u"})

	if plain.PublishedAt != nil {
		t.Error("zero published time should stay nil")
	}

	if plain.AdProcessed {
		t.Error("item without a verdict should stay unprocessed")
	}
}

func TestValidateSourceURL(t *testing.T) {
	tests := []struct {
		sourceType domain.SourceType
		url        string
		ok         bool
	}{
		{domain.SourceTypeReddit, "https://www.reddit.com/r/golang", true},
		{domain.SourceTypeReddit, "https://example.com/r/golang", false},
		{domain.SourceTypeTwitter, "https://x.com/golang", true},
		{domain.SourceTypeTwitter, "https://twitter.com/golang", true},
		{domain.SourceTypeTwitter, "https://mastodon.social/@golang", false},
		{domain.SourceTypeNewsAPI, "https://newsapi.org/v2/top-headlines", true},
		{domain.SourceTypeNewsAPI, "ftp://newsapi.org", false},
		{domain.SourceTypeCustom, "http://internal.example.com", true},
		{domain.SourceTypeRSS, "https://feeds.example.com/rss", true},
		{domain.SourceTypeRSS, "http", false},
	}

	for _, tt := range tests {
		err := validateSourceURL(tt.sourceType, tt.url)

		if tt.ok && err != nil {
			t.Errorf("validateSourceURL(%s, %q) = %v, want nil", tt.sourceType, tt.url, err)
		}

		if !tt.ok && !errors.Is(err, ErrInvalidSourceURL) {
			t.Errorf("validateSourceURL(%s, %q) = %v, want ErrInvalidSourceURL", tt.sourceType, tt.url, err)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{Logger: zerolog.Nop()})

	if !r.Supports(domain.SourceTypeRSS) {
		t.Error("rss should be supported out of the box")
	}

	if r.Supports(domain.SourceTypeTelegram) {
		t.Error("telegram fetchers are registered by the caller, not built in")
	}

	if _, err := r.New(&domain.Source{Type: domain.SourceTypeTelegram}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}

	f, err := r.New(&domain.Source{Type: domain.SourceTypeRSS, Name: "feed", URL: "https://example.com/rss"})
	if err != nil {
		t.Fatalf("new rss fetcher: %v", err)
	}

	if f == nil {
		t.Fatal("fetcher should not be nil")
	}

	r.Register(domain.SourceTypeTelegram, func(_ *domain.Source, _ Deps) Fetcher { return nil })

	if !r.Supports(domain.SourceTypeTelegram) {
		t.Error("registered type should be supported")
	}

	types := r.SupportedTypes()
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Fatalf("types not sorted: %v", types)
		}
	}
}

func TestSourceErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &SourceError{ID: 3, Name: "feed", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("SourceError should unwrap to its cause")
	}

	if err.Error() == "" {
		t.Error("SourceError should describe itself")
	}
}
