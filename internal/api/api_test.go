package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/news-aggregator/internal/categories"
	"github.com/lueurxax/news-aggregator/internal/core/domain"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// stubResolver resolves labels from a mutable mapping table, everything
// else lands on Other.
type stubResolver struct {
	mappings map[string]categories.Resolution
}

func (s *stubResolver) ResolveLabel(_ context.Context, label string, confidence float32) categories.Resolution {
	r, ok := s.mappings[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		r = categories.Resolution{Name: domain.CategoryOther, DisplayName: "Прочее"}
	}

	r.AICategory = label
	r.Confidence = confidence

	return r
}

func (s *stubResolver) ResolveAll(ctx context.Context, labels []string, confidences []float32) []categories.Resolution {
	out := make([]categories.Resolution, 0, len(labels))

	for i, label := range labels {
		var confidence float32
		if i < len(confidences) {
			confidence = confidences[i]
		}

		out = append(out, s.ResolveLabel(ctx, label, confidence))
	}

	return out
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/feed?limit=20&offset=abc&hide_ads=true", nil)

	assert.Equal(t, 20, queryInt(r, "limit", defaultFeedLimit))
	assert.Equal(t, 0, queryInt(r, "offset", 0))
	assert.Equal(t, 7, queryInt(r, "days", 7))
	assert.True(t, queryBool(r, "hide_ads"))
	assert.False(t, queryBool(r, "missing"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultFeedLimit, clampLimit(0))
	assert.Equal(t, defaultFeedLimit, clampLimit(-5))
	assert.Equal(t, 20, clampLimit(20))
	assert.Equal(t, maxFeedLimit, clampLimit(100000))
}

func TestToArticleResponseDetailFlag(t *testing.T) {
	a := &domain.Article{
		ID:      7,
		Title:   "Заголовок",
		URL:     "https://news.rs/1",
		Content: "полный текст",
		Media:   []domain.MediaFile{{URL: "https://t.me/file/x.jpg", Type: domain.MediaTypePhoto}},
	}

	list := toArticleResponse(a, nil, false)

	assert.Empty(t, list.Content, "list view must not carry full content")
	assert.Empty(t, list.Media)
	assert.NotNil(t, list.Categories, "categories must encode as [] not null")

	detail := toArticleResponse(a, nil, true)

	assert.Equal(t, "полный текст", detail.Content)
	require.Len(t, detail.Media, 1)
}

func TestDisplayLabelsFollowCurrentMappings(t *testing.T) {
	// Rows persisted at enrichment time carry only the raw label.
	stored := []domain.ArticleCategory{{ArticleID: 1, AICategory: "Бизнес", Confidence: 0.9}}

	stub := &stubResolver{mappings: map[string]categories.Resolution{}}
	s := &Server{categories: stub}

	before := s.displayLabels(context.Background(), stored)

	require.Len(t, before, 1)
	assert.Equal(t, domain.CategoryOther, before[0].Name)

	// A mapping added after the article was processed must change what
	// the next read serves, with no rewrite of the stored rows.
	stub.mappings["бизнес"] = categories.Resolution{Name: "Business", DisplayName: "Экономика"}

	after := s.displayLabels(context.Background(), stored)

	require.Len(t, after, 1)
	assert.Equal(t, "Business", after[0].Name)
	assert.Equal(t, "Экономика", after[0].DisplayName)
	assert.Equal(t, "Бизнес", after[0].AICategory)
}

func TestMergeCategoryCountsAggregatesThroughMapping(t *testing.T) {
	taxonomy := []domain.Category{
		{ID: 1, Name: "Business", DisplayName: "Экономика", Color: "#28a745"},
		{ID: 2, Name: domain.CategoryOther, DisplayName: "Прочее", Color: "#6c757d"},
	}

	stub := &stubResolver{mappings: map[string]categories.Resolution{
		"бизнес":  {Name: "Business"},
		"finance": {Name: "Business"},
	}}

	resolve := func(label string, confidence float32) categories.Resolution {
		return stub.ResolveLabel(context.Background(), label, confidence)
	}

	counts := mergeCategoryCounts(taxonomy, []db.LabelCount{
		{AICategory: "Бизнес", Confidence: 0.9, Count: 3},
		{AICategory: "finance", Confidence: 0.8, Count: 2},
		{AICategory: "погода", Confidence: 0.5, Count: 1},
	}, resolve)

	require.Len(t, counts, 2)

	// Both business labels fold into one display row; the unmapped label
	// lands on Other.
	assert.Equal(t, "Business", counts[0].Name)
	assert.Equal(t, int64(5), counts[0].Count)
	assert.Equal(t, "Экономика", counts[0].DisplayName)
	assert.Equal(t, int64(1), counts[1].Count)
}

func TestLabelsMatchingInvertsMapping(t *testing.T) {
	stub := &stubResolver{mappings: map[string]categories.Resolution{
		"бизнес":  {Name: "Business"},
		"finance": {Name: "Business"},
	}}

	resolve := func(label string, confidence float32) categories.Resolution {
		return stub.ResolveLabel(context.Background(), label, confidence)
	}

	counts := []db.LabelCount{
		{AICategory: "Бизнес", Count: 3},
		{AICategory: "finance", Count: 2},
		{AICategory: "погода", Count: 1},
	}

	assert.Equal(t, []string{"бизнес", "finance"}, labelsMatching(counts, "Business", resolve))
	assert.Empty(t, labelsMatching(counts, "Serbia", resolve))
}

func TestApplyScheduleUpdatePartial(t *testing.T) {
	setting := &domain.ScheduleSetting{
		TaskName:     domain.TaskTelegramDigest,
		Enabled:      true,
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         20,
		Minute:       0,
		Timezone:     "Europe/Belgrade",
	}

	hour := 21
	enabled := false

	applyScheduleUpdate(setting, &scheduleUpdateRequest{
		Hour:    &hour,
		Enabled: &enabled,
	})

	assert.Equal(t, 21, setting.Hour)
	assert.False(t, setting.Enabled)
	// Untouched fields keep their values.
	assert.Equal(t, domain.ScheduleTypeDaily, setting.ScheduleType)
	assert.Equal(t, "Europe/Belgrade", setting.Timezone)
}

func TestValidateSchedule(t *testing.T) {
	valid := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         20,
		Minute:       0,
		Weekdays:     []int{1, 7},
		Timezone:     "UTC",
	}

	require.NoError(t, validateSchedule(valid))

	tests := []struct {
		name   string
		mutate func(*domain.ScheduleSetting)
		want   error
	}{
		{"bad type", func(s *domain.ScheduleSetting) { s.ScheduleType = "cron" }, errBadScheduleType},
		{"bad hour", func(s *domain.ScheduleSetting) { s.Hour = 24 }, errBadHour},
		{"bad minute", func(s *domain.ScheduleSetting) { s.Minute = 60 }, errBadMinute},
		{"bad weekday", func(s *domain.ScheduleSetting) { s.Weekdays = []int{0} }, errBadWeekday},
		{"bad timezone", func(s *domain.ScheduleSetting) { s.Timezone = "Not/AZone" }, errBadTimezone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *valid
			s.Weekdays = append([]int(nil), valid.Weekdays...)
			tt.mutate(&s)

			assert.ErrorIs(t, validateSchedule(&s), tt.want)
		})
	}
}

func TestScheduleSettingDTORoundtrip(t *testing.T) {
	last := time.Date(2025, 7, 29, 19, 0, 0, 0, time.UTC)

	setting := &domain.ScheduleSetting{
		TaskName:     domain.TaskNewsProcessing,
		Enabled:      true,
		ScheduleType: domain.ScheduleTypeHourly,
		Minute:       0,
		Timezone:     "Europe/Belgrade",
		LastRun:      &last,
	}

	dto := toScheduleSettingDTO(setting)

	assert.Equal(t, domain.TaskNewsProcessing, dto.TaskName)
	assert.Equal(t, domain.ScheduleTypeHourly, dto.ScheduleType)
	assert.Equal(t, &last, dto.LastRun)
	assert.Nil(t, dto.NextRun)
}
