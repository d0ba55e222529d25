package llm

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseAnalysis(t *testing.T) {
	raw := `{
		"optimized_title": "Новый бюджет принят",
		"original_categories": ["государственные финансы"],
		"categories": ["Политика", "Экономика"],
		"category_confidences": [0.9, 0.6],
		"summary": "Парламент принял бюджет на следующий год после долгих дебатов.",
		"summary_confidence": 0.85,
		"is_advertisement": false,
		"ad_type": null,
		"ad_confidence": 0.05,
		"ad_reasoning": "Обычная новость",
		"publication_date": "2025-08-20",
		"confidence": 0.9,
		"content_quality": 0.8
	}`

	a, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis() error = %v", err)
	}

	if a.OptimizedTitle != "Новый бюджет принят" {
		t.Errorf("OptimizedTitle = %q", a.OptimizedTitle)
	}

	if len(a.Categories) != 2 || a.Categories[0] != "Политика" {
		t.Errorf("Categories = %v", a.Categories)
	}

	if len(a.CategoryConfidences) != 2 || a.CategoryConfidences[0] != 0.9 {
		t.Errorf("CategoryConfidences = %v", a.CategoryConfidences)
	}

	if a.PublicationDate == nil {
		t.Fatal("PublicationDate = nil, want 2025-08-20")
	}

	want := time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC)
	if !a.PublicationDate.Equal(want) {
		t.Errorf("PublicationDate = %v, want %v", a.PublicationDate, want)
	}
}

func TestParseAnalysisDefaults(t *testing.T) {
	// summary_confidence and content_quality omitted entirely.
	raw := `{"categories": ["Наука"], "summary": "Текст", "is_advertisement": false}`

	a, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis() error = %v", err)
	}

	if a.SummaryConfidence != defaultSummaryConfidence {
		t.Errorf("SummaryConfidence = %v, want %v", a.SummaryConfidence, defaultSummaryConfidence)
	}

	if a.ContentQuality != defaultContentQuality {
		t.Errorf("ContentQuality = %v, want %v", a.ContentQuality, defaultContentQuality)
	}

	if a.PublicationDate != nil {
		t.Errorf("PublicationDate = %v, want nil", a.PublicationDate)
	}
}

func TestParseAnalysisFenced(t *testing.T) {
	raw := "```json\n{\"categories\": [\"Спорт\"], \"summary\": \"Матч завершился вничью.\"}\n```"

	a, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis() error = %v", err)
	}

	if len(a.Categories) != 1 || a.Categories[0] != "Спорт" {
		t.Errorf("Categories = %v", a.Categories)
	}
}

func TestParseAnalysisInvalid(t *testing.T) {
	for _, raw := range []string{"", "не JSON вовсе", "{broken"} {
		if _, err := parseAnalysis(raw); err == nil {
			t.Errorf("parseAnalysis(%q) expected error", raw)
		}
	}
}

func TestValidateAnalysisClamps(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	a := &Analysis{
		Categories:          []string{"Политика", "Экономика"},
		CategoryConfidences: []float32{1.5, -0.2},
		SummaryConfidence:   2,
		ContentQuality:      -1,
		AdConfidence:        1.2,
	}

	validateAnalysis(a, now)

	if a.CategoryConfidences[0] != 1 || a.CategoryConfidences[1] != 0 {
		t.Errorf("CategoryConfidences = %v, want [1 0]", a.CategoryConfidences)
	}

	if a.SummaryConfidence != 1 {
		t.Errorf("SummaryConfidence = %v, want 1", a.SummaryConfidence)
	}

	if a.ContentQuality != 0 {
		t.Errorf("ContentQuality = %v, want 0", a.ContentQuality)
	}

	if a.AdConfidence != 1 {
		t.Errorf("AdConfidence = %v, want 1", a.AdConfidence)
	}
}

func TestValidateAnalysisCategories(t *testing.T) {
	now := time.Now()

	empty := &Analysis{}
	validateAnalysis(empty, now)

	if len(empty.Categories) != 1 || empty.Categories[0] != "Other" {
		t.Errorf("empty categories = %v, want [Other]", empty.Categories)
	}

	if empty.CategoryConfidences[0] != 0.3 {
		t.Errorf("empty confidence = %v, want 0.3", empty.CategoryConfidences[0])
	}

	padded := &Analysis{Categories: []string{"А", "Б"}}
	validateAnalysis(padded, now)

	if len(padded.CategoryConfidences) != 2 || padded.CategoryConfidences[1] != defaultCategoryConfidence {
		t.Errorf("padded confidences = %v", padded.CategoryConfidences)
	}

	over := &Analysis{Categories: []string{"А", "Б", "В", "Г"}}
	validateAnalysis(over, now)

	if len(over.Categories) != maxCategoriesPerArticle {
		t.Errorf("len(categories) = %d, want %d", len(over.Categories), maxCategoriesPerArticle)
	}
}

func TestValidateAnalysisAdThreshold(t *testing.T) {
	now := time.Now()

	weak := &Analysis{Categories: []string{"Other"}, IsAdvertisement: true, AdConfidence: 0.5}
	validateAnalysis(weak, now)

	if weak.IsAdvertisement {
		t.Error("low-confidence ad verdict should be dropped")
	}

	strong := &Analysis{Categories: []string{"Other"}, IsAdvertisement: true, AdConfidence: 0.7}
	validateAnalysis(strong, now)

	if !strong.IsAdvertisement {
		t.Error("confident ad verdict should stand")
	}

	if strong.AdType != AdTypePromotion {
		t.Errorf("AdType = %q, want %q", strong.AdType, AdTypePromotion)
	}
}

func TestValidateAnalysisDateWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		date       time.Time
		confidence float32
		wantKept   bool
	}{
		{"recent confident", now.AddDate(0, 0, -1), 0.9, true},
		{"too old", now.AddDate(-3, 0, 0), 0.9, false},
		{"future", now.AddDate(0, 0, 2), 0.9, false},
		{"low confidence", now.AddDate(0, 0, -1), 0.3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date := tt.date
			a := &Analysis{
				Categories:      []string{"Other"},
				PublicationDate: &date,
				DateConfidence:  tt.confidence,
			}

			validateAnalysis(a, now)

			if kept := a.PublicationDate != nil; kept != tt.wantKept {
				t.Errorf("date kept = %v, want %v", kept, tt.wantKept)
			}
		})
	}
}

func TestSummaryAcceptable(t *testing.T) {
	content := "Президент подписал закон о новых мерах поддержки экономики. Документ вступит в силу с начала следующего месяца. Эксперты ожидают роста инвестиций."

	tests := []struct {
		name    string
		summary string
		want    bool
	}{
		{
			"good paraphrase",
			"Глава государства утвердил пакет экономических мер, который заработает со следующего месяца и должен привлечь инвесторов.",
			true,
		},
		{
			"too short",
			"Закон подписан.",
			false,
		},
		{
			"no cyrillic",
			"The president signed a law introducing new economic support measures effective next month.",
			false,
		},
		{
			"verbatim copy",
			content,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summaryAcceptable(tt.summary, content); got != tt.want {
				t.Errorf("summaryAcceptable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarityRatio(t *testing.T) {
	if got := similarityRatio("новости дня", "новости дня"); got != 1 {
		t.Errorf("identical ratio = %v, want 1", got)
	}

	if got := similarityRatio("abcd", "wxyz"); got != 0 {
		t.Errorf("disjoint ratio = %v, want 0", got)
	}

	if got := similarityRatio("", "текст"); got != 0 {
		t.Errorf("empty ratio = %v, want 0", got)
	}

	partial := similarityRatio("экономика растет", "экономика падает")
	if partial <= 0 || partial >= 1 {
		t.Errorf("partial ratio = %v, want in (0, 1)", partial)
	}
}

func TestExtractiveSummary(t *testing.T) {
	short := "Первое предложение. Второе предложение. Третье предложение."
	if got := extractiveSummary(short); got != short {
		t.Errorf("extractiveSummary() = %q, want unchanged", got)
	}

	long := strings.Repeat("а", 900) + "."
	got := extractiveSummary(long)

	if n := utf8.RuneCountInString(got); n != extractiveSummaryCap {
		t.Errorf("oversized sentence length = %d, want %d", n, extractiveSummaryCap)
	}

	many := strings.Repeat("Короткое предложение. ", 10)
	got = extractiveSummary(many)

	if n := strings.Count(got, "."); n != maxExtractiveSentences {
		t.Errorf("sentence count = %d, want %d", n, maxExtractiveSentences)
	}

	if got := extractiveSummary(""); got != "" {
		t.Errorf("empty content summary = %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			"terminators",
			"Первое предложение. Второе! Третье?",
			[]string{"Первое предложение.", "Второе!", "Третье?"},
		},
		{
			"decimal point survives",
			"Цена выросла до 1.5 млн. Рынок отреагировал спокойно.",
			[]string{"Цена выросла до 1.5 млн.", "Рынок отреагировал спокойно."},
		},
		{
			"no terminator",
			"Привет",
			[]string{"Привет"},
		},
		{
			"empty",
			"",
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.in)

			if len(got) != len(tt.want) {
				t.Fatalf("splitSentences() = %v, want %v", got, tt.want)
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFallbackParse(t *testing.T) {
	content := "Длинное содержание статьи для проверки запасного разбора. Ещё одно предложение с фактами."

	a := fallbackParse("Это статья про политику и экономику региона", "", content)

	if len(a.Categories) != 2 || a.Categories[0] != "Политика" || a.Categories[1] != "Экономика" {
		t.Errorf("Categories = %v, want [Политика Экономика]", a.Categories)
	}

	for i, c := range a.CategoryConfidences {
		if c != 0.7 {
			t.Errorf("confidence[%d] = %v, want 0.7", i, c)
		}
	}

	if !a.Fallback {
		t.Error("Fallback flag not set")
	}

	none := fallbackParse("plain text without category words", "", content)

	if len(none.Categories) != 1 || none.Categories[0] != "Other" {
		t.Errorf("Categories = %v, want [Other]", none.Categories)
	}

	if none.CategoryConfidences[0] != 0.3 {
		t.Errorf("confidence = %v, want 0.3", none.CategoryConfidences[0])
	}

	if none.Summary == "" {
		t.Error("summary should fall back to article content")
	}
}

func TestNeutralAnalysis(t *testing.T) {
	a := neutralAnalysis()

	if len(a.Categories) != 1 || a.Categories[0] != "Other" {
		t.Errorf("Categories = %v", a.Categories)
	}

	if a.CategoryConfidences[0] != 0.1 {
		t.Errorf("confidence = %v, want 0.1", a.CategoryConfidences[0])
	}

	if a.ContentQuality != 0.2 {
		t.Errorf("ContentQuality = %v, want 0.2", a.ContentQuality)
	}

	if !a.Fallback {
		t.Error("Fallback flag not set")
	}
}

func TestFallbackAnalysis(t *testing.T) {
	a := fallbackAnalysis("Первое предложение статьи. Второе предложение статьи.")

	if a.AdReasoning != "Fallback analysis - AI unavailable" {
		t.Errorf("AdReasoning = %q", a.AdReasoning)
	}

	if a.Summary == "" {
		t.Error("fallback summary should be extractive, not empty")
	}

	if !a.Fallback {
		t.Error("Fallback flag not set")
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"wrapped in prose", `Вот ответ: {"a":1} готово`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"no object", "ответа нет", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.in)

			if (err != nil) != tt.wantErr {
				t.Fatalf("extractJSONObject() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.want {
				t.Errorf("extractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanPlainResponse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```text\nПривет мир\n```", "Привет мир"},
		{"\"Цитата\"", "Цитата"},
		{"  обычный текст  ", "обычный текст"},
	}

	for _, tt := range tests {
		if got := cleanPlainResponse(tt.in); got != tt.want {
			t.Errorf("cleanPlainResponse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLooseDate(t *testing.T) {
	if _, ok := parseLooseDate("null"); ok {
		t.Error("null should not parse")
	}

	if _, ok := parseLooseDate(""); ok {
		t.Error("empty should not parse")
	}

	if _, ok := parseLooseDate("дата не указана"); ok {
		t.Error("prose should not parse")
	}

	got, ok := parseLooseDate("2026-01-15")
	if !ok {
		t.Fatal("ISO date should parse")
	}

	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseLooseDate() = %v, want %v", got, want)
	}

	if _, ok := parseLooseDate("15 Jan 2026"); !ok {
		t.Error("loose format should parse")
	}
}

func TestWithinDateWindow(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"yesterday", now.AddDate(0, 0, -1), true},
		{"a year ago", now.AddDate(-1, 0, 0), true},
		{"three years ago", now.AddDate(-3, 0, 0), false},
		{"two hours ahead", now.Add(2 * time.Hour), true},
		{"two days ahead", now.AddDate(0, 0, 2), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinDateWindow(tt.t, now); got != tt.want {
				t.Errorf("withinDateWindow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("привет", 10); got != "привет" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}

	if got := truncate("привет мир", 6); got != "привет" {
		t.Errorf("truncate() = %q, want %q", got, "привет")
	}
}

func TestTruncateAtSentence(t *testing.T) {
	if got := truncateAtSentence("Короткий текст.", 100); got != "Короткий текст." {
		t.Errorf("short text = %q, want unchanged", got)
	}

	got := truncateAtSentence("Первое. Второе. Третье предложение подлиннее.", 20)
	if got != "Первое. Второе." {
		t.Errorf("sentence cut = %q, want %q", got, "Первое. Второе.")
	}

	noBoundary := strings.Repeat("а", 50)
	if got := truncateAtSentence(noBoundary, 10); utf8.RuneCountInString(got) != 10 {
		t.Errorf("hard cut length = %d, want 10", utf8.RuneCountInString(got))
	}
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		base      string
		want      string
		wantOK    bool
	}{
		{"absolute", "https://site.rs/news/1", "https://site.rs/list", "https://site.rs/news/1", true},
		{"relative root", "/news/1", "https://site.rs/list", "https://site.rs/news/1", true},
		{"relative path", "news/2", "https://site.rs/sec/", "https://site.rs/sec/news/2", true},
		{"javascript", "javascript:alert(1)", "https://site.rs/", "", false},
		{"empty", "", "https://site.rs/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveLink(tt.candidate, tt.base)

			if ok != tt.wantOK {
				t.Fatalf("resolveLink() ok = %v, want %v", ok, tt.wantOK)
			}

			if got != tt.want {
				t.Errorf("resolveLink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallbackCategorySummary(t *testing.T) {
	got := FallbackCategorySummary("Технологии", 5)
	want := "В сфере Технологии произошли важные события. Обработано 5 новостей."

	if got != want {
		t.Errorf("FallbackCategorySummary() = %q, want %q", got, want)
	}
}

func TestHeadlineList(t *testing.T) {
	got := headlineList([]string{"Первая новость", "", "Вторая новость"})
	want := "- Первая новость\n- Вторая новость"

	if got != want {
		t.Errorf("headlineList() = %q, want %q", got, want)
	}

	many := make([]string, 20)
	for i := range many {
		many[i] = "новость"
	}

	if got := strings.Count(headlineList(many), "\n"); got != maxHeadlinesPerSummary-1 {
		t.Errorf("headline count = %d, want %d", got+1, maxHeadlinesPerSummary)
	}
}
