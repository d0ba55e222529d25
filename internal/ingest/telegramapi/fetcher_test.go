package telegramapi

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/platform/config"
)

func TestNormalizeMessages(t *testing.T) {
	f := &fetcher{
		username: "newsch",
		cfg:      &config.Config{},
		logger:   zerolog.Nop(),
	}

	messages := []*tg.Message{
		{
			ID:      42,
			Date:    int(time.Date(2025, 7, 29, 8, 30, 0, 0, time.UTC).Unix()),
			Message: "Правительство представило проект бюджета на следующий год.\nПодробнее: https://news.rs/budget?utm_source=tg",
			Media:   &tg.MessageMediaPhoto{},
		},
		{
			ID:      41,
			Date:    int(time.Now().Unix()),
			Message: "",
		},
	}

	// Empty messages are filtered by history(); normalize only sees the first.
	items := f.normalizeMessages(messages[:1])

	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	item := items[0]

	if item.URL != "https://t.me/newsch/42" {
		t.Errorf("url = %q", item.URL)
	}

	if item.Title != "Правительство представило проект бюджета на следующий год" {
		t.Errorf("title = %q", item.Title)
	}

	if want := time.Date(2025, 7, 29, 8, 30, 0, 0, time.UTC); !item.PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", item.PublishedAt, want)
	}

	if item.Raw["original_link"] != "https://news.rs/budget" {
		t.Errorf("original_link = %v, want tracking params stripped", item.Raw["original_link"])
	}

	if item.Raw["media_kind"] != "photo" {
		t.Errorf("media_kind = %v", item.Raw["media_kind"])
	}

	if item.Raw["transport"] != "api" {
		t.Errorf("transport = %v", item.Raw["transport"])
	}
}

func TestExternalLinksMergesEntities(t *testing.T) {
	msg := &tg.Message{
		Message: "Читайте на https://example.com/a и https://t.me/other",
		Entities: []tg.MessageEntityClass{
			&tg.MessageEntityTextURL{URL: "https://example.com/b"},
		},
	}

	links := externalLinks(msg)

	if len(links) != 2 {
		t.Fatalf("links = %v, want entity link plus text link, telegram host dropped", links)
	}

	if links[0] != "https://example.com/b" || links[1] != "https://example.com/a" {
		t.Errorf("links = %v", links)
	}
}

func TestSanitizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+381 64 123-45-67", "+381641234567"},
		{" 79001234567\n", "79001234567"},
		{"tel:+7(900)111-22-33", "79001112233"},
	}

	for _, tt := range tests {
		if got := sanitizePhone(tt.in); got != tt.want {
			t.Errorf("sanitizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
