package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceType identifies the fetcher responsible for a source.
type SourceType string

// Supported source types.
const (
	SourceTypeRSS         SourceType = "rss"
	SourceTypeTelegram    SourceType = "telegram"
	SourceTypeTelegramAPI SourceType = "telegram_api"
	SourceTypeGenericPage SourceType = "generic_page"
	SourceTypeReddit      SourceType = "reddit"
	SourceTypeTwitter     SourceType = "twitter"
	SourceTypeNewsAPI     SourceType = "news_api"
	SourceTypeCustom      SourceType = "custom"
)

// Valid reports whether t is one of the supported source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeRSS, SourceTypeTelegram, SourceTypeTelegramAPI, SourceTypeGenericPage,
		SourceTypeReddit, SourceTypeTwitter, SourceTypeNewsAPI, SourceTypeCustom:
		return true
	default:
		return false
	}
}

// SourceTypes lists all supported source types in a stable order.
func SourceTypes() []SourceType {
	return []SourceType{
		SourceTypeRSS, SourceTypeTelegram, SourceTypeTelegramAPI, SourceTypeGenericPage,
		SourceTypeReddit, SourceTypeTwitter, SourceTypeNewsAPI, SourceTypeCustom,
	}
}

// Source represents a configured news source.
type Source struct {
	ID            int64
	Name          string
	Type          SourceType
	URL           string
	Enabled       bool
	Config        map[string]any
	FetchInterval time.Duration
	LastFetch     *time.Time
	LastSuccess   *time.Time
	LastError     string
	ErrorCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConfigString returns a string value from the source config, or def when absent.
func (s *Source) ConfigString(key, def string) string {
	if v, ok := s.Config[key].(string); ok && v != "" {
		return v
	}

	return def
}

// ConfigInt returns an integer value from the source config, or def when absent.
// JSON numbers decode as float64, so both forms are accepted.
func (s *Source) ConfigInt(key string, def int) int {
	switch v := s.Config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// ConfigBool returns a boolean value from the source config, or def when absent.
func (s *Source) ConfigBool(key string, def bool) bool {
	if v, ok := s.Config[key].(bool); ok {
		return v
	}

	return def
}

// ConfigStrings returns a list value from the source config. JSON lists
// decode as []any, so both forms are accepted.
func (s *Source) ConfigStrings(key string) []string {
	switch v := s.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}

		return out
	default:
		return nil
	}
}

// MediaFile describes one media attachment discovered in a source item.
type MediaFile struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Media type constants.
const (
	MediaTypePhoto    = "photo"
	MediaTypeVideo    = "video"
	MediaTypeDocument = "document"
	MediaTypeAudio    = "audio"
)

// NormalizedItem is the fetcher-independent shape of one fetched article
// before persistence. Ad is set when the fetcher already classified the
// item as advertising (Telegram keyword pre-detection).
type NormalizedItem struct {
	Title       string
	URL         string
	Content     string
	ImageURL    string
	Media       []MediaFile
	PublishedAt time.Time
	Raw         map[string]any
	Ad          *AdAssessment
}

// AdAssessment is an advertising verdict computed at fetch time.
type AdAssessment struct {
	IsAdvertisement bool
	Confidence      float32
	Type            string
	Reasoning       string
	Markers         []string
}

// Article represents a stored article with its processing state.
type Article struct {
	ID                int64
	SourceID          int64
	SourceName        string
	SourceType        SourceType
	Title             string
	URL               string
	Content           string
	Summary           string
	ImageURL          string
	Media             []MediaFile
	Raw               map[string]any
	PublishedAt       *time.Time
	FetchedAt         time.Time
	HashContent       string
	SummaryProcessed  bool
	CategoryProcessed bool
	AdProcessed       bool
	Processed         bool
	IsAdvertisement   bool
	AdConfidence      float32
	AdType            string
	AdReasoning       string
	AdMarkers         []string
	Categories        []ArticleCategory
}

// ContentHash returns the dedup hash for an article: hex SHA-256 of "title:url".
func ContentHash(title, url string) string {
	sum := sha256.Sum256([]byte(title + ":" + url))
	return hex.EncodeToString(sum[:])
}

// ArticleCategory links an article to a category assignment.
// CategoryID is nil for raw AI labels that have not been mapped to the
// fixed taxonomy.
type ArticleCategory struct {
	ID         int64
	ArticleID  int64
	CategoryID *int64
	AICategory string
	Confidence float32
	CreatedAt  time.Time
}

// Category is one entry of the fixed display taxonomy.
type Category struct {
	ID          int64
	Name        string
	DisplayName string
	Color       string
}

// CategoryOther is the catch-all category every unmappable label falls
// back to.
const CategoryOther = "Other"

// FixedCategories returns the closed display taxonomy in seed order.
func FixedCategories() []Category {
	return []Category{
		{Name: "Serbia", DisplayName: "Сербия", Color: "#dc3545"},
		{Name: "Tech", DisplayName: "Технологии", Color: "#007bff"},
		{Name: "Business", DisplayName: "Бизнес", Color: "#28a745"},
		{Name: "Science", DisplayName: "Наука", Color: "#6f42c1"},
		{Name: "Politics", DisplayName: "Политика", Color: "#839933"},
		{Name: "International", DisplayName: "Международные", Color: "#cd51bc"},
		{Name: CategoryOther, DisplayName: "Прочее", Color: "#6c757d"},
	}
}

// CategoryMapping is an operator-managed override from a raw AI label to a
// fixed category.
type CategoryMapping struct {
	ID                  int64
	AICategory          string
	FixedCategory       string
	ConfidenceThreshold float32
	IsActive            bool
	UsageCount          int
	LastUsed            *time.Time
}

// Schedule type constants.
const (
	ScheduleTypeDaily    = "daily"
	ScheduleTypeHourly   = "hourly"
	ScheduleTypeInterval = "interval"
)

// Scheduled task names.
const (
	TaskNewsProcessing = "news_processing"
	TaskTelegramDigest = "telegram_digest"
	TaskDailySummaries = "daily_summaries"
	TaskBackup         = "backup"
)

// ScheduleSetting is one row of the DB-driven scheduler.
type ScheduleSetting struct {
	ID           int64
	TaskName     string
	Enabled      bool
	ScheduleType string
	Hour         int
	Minute       int
	Weekdays     []int
	Timezone     string
	TaskConfig   map[string]any
	LastRun      *time.Time
	NextRun      *time.Time
	IsRunning    bool
}

// ProcessingStat aggregates one day of pipeline activity.
type ProcessingStat struct {
	Date                  time.Time
	ArticlesFetched       int
	ArticlesProcessed     int
	APICallsMade          int
	ErrorsCount           int
	ProcessingTimeSeconds float64
}

// DailySummary is a generated per-category summary for one date.
type DailySummary struct {
	ID            int64
	Date          time.Time
	Category      string
	SummaryText   string
	ArticlesCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExtractionAttempt is one audit-log row of a content extraction try.
type ExtractionAttempt struct {
	ArticleURL       string
	Domain           string
	Strategy         string
	SelectorUsed     string
	Success          bool
	ContentLength    int
	QualityScore     float32
	ExtractionTimeMS int64
	ErrorMessage     string
}
