package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/sony/gobreaker"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

// Analysis is the result of the unified article analysis call: title rework,
// categorization, summary, ad verdict and publication date in one response.
// The struct is cached on disk as JSON, keyed by article URL.
type Analysis struct {
	OptimizedTitle      string     `json:"optimized_title"`
	OriginalCategories  []string   `json:"original_categories"`
	Categories          []string   `json:"categories"`
	CategoryConfidences []float32  `json:"category_confidences"`
	Summary             string     `json:"summary"`
	SummaryConfidence   float32    `json:"summary_confidence"`
	IsAdvertisement     bool       `json:"is_advertisement"`
	AdType              string     `json:"ad_type,omitempty"`
	AdConfidence        float32    `json:"ad_confidence"`
	AdReasoning         string     `json:"ad_reasoning,omitempty"`
	PublicationDate     *time.Time `json:"publication_date,omitempty"`
	DateConfidence      float32    `json:"date_confidence"`
	ContentQuality      float32    `json:"content_quality"`

	// Fallback marks results produced without a usable model response.
	// They are never written to the cache.
	Fallback  bool `json:"fallback,omitempty"`
	FromCache bool `json:"-"`
}

// rawAnalysis mirrors the JSON schema the model is asked for. Optional
// fields are pointers so a missing key is distinguishable from zero.
type rawAnalysis struct {
	OptimizedTitle      string    `json:"optimized_title"`
	OriginalCategories  []string  `json:"original_categories"`
	Categories          []string  `json:"categories"`
	CategoryConfidences []float64 `json:"category_confidences"`
	Summary             string    `json:"summary"`
	SummaryConfidence   *float64  `json:"summary_confidence"`
	IsAdvertisement     bool      `json:"is_advertisement"`
	AdType              *string   `json:"ad_type"`
	AdConfidence        float64   `json:"ad_confidence"`
	AdReasoning         string    `json:"ad_reasoning"`
	PublicationDate     *string   `json:"publication_date"`
	Confidence          float64   `json:"confidence"`
	ContentQuality      *float64  `json:"content_quality"`
}

// AnalyzeArticleComplete runs the unified five-task analysis for one article.
// It always returns a usable Analysis: provider failures degrade to keyword
// and extractive fallbacks. The only error returned is context cancellation.
func (c *Client) AnalyzeArticleComplete(ctx context.Context, title, articleURL, content string) (*Analysis, error) {
	trimmed := strings.TrimSpace(content)
	if utf8.RuneCountInString(trimmed) < minAnalyzableContent {
		return neutralAnalysis(), nil
	}

	cacheKey := analysisCachePrefix + articleURL

	if c.cache != nil && articleURL != "" {
		var cached Analysis

		hit, err := c.cache.Get(cacheKey, &cached)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", articleURL).Msg("analysis cache read failed")
		}

		if hit {
			observability.AICacheHits.Inc()
			cached.FromCache = true

			return &cached, nil
		}

		observability.AICacheMisses.Inc()
	}

	if !c.Available() {
		return fallbackAnalysis(trimmed), nil
	}

	prompt := fmt.Sprintf(unifiedAnalysisPrompt, title, articleURL, truncate(trimmed, analysisPreviewChars))

	var (
		analysis *Analysis
		lastRaw  string
	)

	for attempt := 1; attempt <= analysisAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(analysisRetryDelay):
			}
		}

		raw, err := c.chat(ctx, chatRequest{
			Task:        "analyze",
			System:      unifiedAnalysisSystemPrompt,
			User:        prompt,
			MaxTokens:   analysisMaxTokens,
			Temperature: analysisTemperature,
			JSONMode:    true,
		})
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("url", articleURL).Msg("article analysis call failed")

			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}

			if errors.Is(err, ErrDisabled) || errors.Is(err, gobreaker.ErrOpenState) {
				break
			}

			continue
		}

		lastRaw = raw

		parsed, err := parseAnalysis(raw)
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Str("url", articleURL).Msg("article analysis parse failed")

			continue
		}

		analysis = parsed

		break
	}

	if analysis == nil {
		if lastRaw == "" {
			return fallbackAnalysis(trimmed), nil
		}

		analysis = fallbackParse(lastRaw, title, trimmed)
	}

	validateAnalysis(analysis, time.Now())
	c.ensureSummary(ctx, analysis, title, trimmed)

	if c.cache != nil && articleURL != "" && !analysis.Fallback {
		if err := c.cache.Set(cacheKey, analysis, c.cfg.AnalysisCacheTTL); err != nil {
			c.logger.Debug().Err(err).Str("url", articleURL).Msg("analysis cache write failed")
		}
	}

	return analysis, nil
}

// neutralAnalysis is the verdict for content too short to analyze.
func neutralAnalysis() *Analysis {
	return &Analysis{
		Categories:          []string{domain.CategoryOther},
		CategoryConfidences: []float32{0.1},
		ContentQuality:      0.2,
		Fallback:            true,
	}
}

// fallbackAnalysis is the verdict when the provider is unreachable. The
// summary is extractive so the article still carries something readable.
func fallbackAnalysis(content string) *Analysis {
	return &Analysis{
		Categories:          []string{domain.CategoryOther},
		CategoryConfidences: []float32{0.1},
		Summary:             extractiveSummary(content),
		SummaryConfidence:   0.1,
		AdReasoning:         "Fallback analysis - AI unavailable",
		ContentQuality:      0.2,
		Fallback:            true,
	}
}

// parseAnalysis decodes the model response, tolerating code fences and prose
// around the JSON object.
func parseAnalysis(raw string) (*Analysis, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}

	analysis := &Analysis{
		OptimizedTitle:     strings.TrimSpace(parsed.OptimizedTitle),
		OriginalCategories: cleanStrings(parsed.OriginalCategories),
		Categories:         cleanStrings(parsed.Categories),
		Summary:            strings.TrimSpace(parsed.Summary),
		IsAdvertisement:    parsed.IsAdvertisement,
		AdConfidence:       float32(parsed.AdConfidence),
		AdReasoning:        strings.TrimSpace(parsed.AdReasoning),
		DateConfidence:     float32(parsed.Confidence),
	}

	for _, v := range parsed.CategoryConfidences {
		analysis.CategoryConfidences = append(analysis.CategoryConfidences, float32(v))
	}

	if parsed.SummaryConfidence != nil {
		analysis.SummaryConfidence = float32(*parsed.SummaryConfidence)
	} else {
		analysis.SummaryConfidence = defaultSummaryConfidence
	}

	if parsed.ContentQuality != nil {
		analysis.ContentQuality = float32(*parsed.ContentQuality)
	} else {
		analysis.ContentQuality = defaultContentQuality
	}

	if parsed.AdType != nil {
		analysis.AdType = strings.ToLower(strings.TrimSpace(*parsed.AdType))
	}

	if parsed.PublicationDate != nil {
		if t, ok := parseLooseDate(*parsed.PublicationDate); ok {
			analysis.PublicationDate = &t
		}
	}

	return analysis, nil
}

// validateAnalysis clamps confidences, pads missing ones, enforces the ad
// confidence threshold and drops publication dates outside the sane window.
func validateAnalysis(a *Analysis, now time.Time) {
	if len(a.Categories) == 0 {
		a.Categories = []string{domain.CategoryOther}
		a.CategoryConfidences = []float32{0.3}
	}

	if len(a.Categories) > maxCategoriesPerArticle {
		a.Categories = a.Categories[:maxCategoriesPerArticle]
	}

	for len(a.CategoryConfidences) < len(a.Categories) {
		a.CategoryConfidences = append(a.CategoryConfidences, defaultCategoryConfidence)
	}

	a.CategoryConfidences = a.CategoryConfidences[:len(a.Categories)]
	for i, v := range a.CategoryConfidences {
		a.CategoryConfidences[i] = clamp01(v)
	}

	a.SummaryConfidence = clamp01(a.SummaryConfidence)
	a.ContentQuality = clamp01(a.ContentQuality)
	a.AdConfidence = clamp01(a.AdConfidence)
	a.DateConfidence = clamp01(a.DateConfidence)

	// A low-confidence ad verdict is noise: models flag anything with a
	// price in it.
	if a.IsAdvertisement && a.AdConfidence < adConfidenceThreshold {
		a.IsAdvertisement = false
	}

	if a.IsAdvertisement && a.AdType == "" {
		a.AdType = AdTypePromotion
	}

	if a.PublicationDate != nil {
		if a.DateConfidence < minExtractionConfidence || !withinDateWindow(*a.PublicationDate, now) {
			a.PublicationDate = nil
		}
	}
}

// ensureSummary enforces the summary contract: long enough, in Russian, and
// not a verbatim copy of the article. One stricter rewrite attempt, then an
// extractive fallback.
func (c *Client) ensureSummary(ctx context.Context, a *Analysis, title, content string) {
	if a.Fallback {
		return
	}

	if summaryAcceptable(a.Summary, content) {
		return
	}

	if c.Available() {
		raw, err := c.chat(ctx, chatRequest{
			Task:        "summary_retry",
			User:        fmt.Sprintf(summaryRetryPrompt, title, truncate(content, analysisPreviewChars)),
			MaxTokens:   summaryRetryMaxTokens,
			Temperature: summaryRetryTemperature,
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("summary rewrite failed")
		} else {
			retry := cleanPlainResponse(raw)
			if summaryAcceptable(retry, content) {
				a.Summary = retry
				a.SummaryConfidence = 0.7

				return
			}
		}
	}

	a.Summary = extractiveSummary(content)
	a.SummaryConfidence = 0.3
}

// summaryAcceptable checks the three-part summary contract.
func summaryAcceptable(summary, content string) bool {
	if utf8.RuneCountInString(summary) < minSummaryLength {
		return false
	}

	if !hasCyrillic(summary) {
		return false
	}

	window := truncate(content, similarityWindow)

	return similarityRatio(normalizeText(summary), normalizeText(window)) < maxSummarySimilarity
}

// fallbackParse salvages an analysis from a response that was not valid
// JSON: category keywords from the response text, the response prose as a
// summary candidate.
func fallbackParse(raw, title, content string) *Analysis {
	haystack := strings.ToLower(raw + " " + title)

	var categories []string

	seen := make(map[string]struct{})

	for _, kw := range fallbackCategoryKeywords {
		if !strings.Contains(haystack, kw.keyword) {
			continue
		}

		if _, dup := seen[kw.category]; dup {
			continue
		}

		seen[kw.category] = struct{}{}
		categories = append(categories, kw.category)

		if len(categories) == maxCategoriesPerArticle {
			break
		}
	}

	confidences := make([]float32, len(categories))
	for i := range confidences {
		confidences[i] = 0.7
	}

	if len(categories) == 0 {
		categories = []string{domain.CategoryOther}
		confidences = []float32{0.3}
	}

	summary := proseSummary(raw)
	if utf8.RuneCountInString(summary) < minAnalyzableContent {
		summary = extractiveSummary(content)
	}

	return &Analysis{
		Categories:          categories,
		CategoryConfidences: confidences,
		Summary:             summary,
		SummaryConfidence:   0.3,
		ContentQuality:      0.5,
		Fallback:            true,
	}
}

var fallbackCategoryKeywords = []struct {
	keyword  string
	category string
}{
	{"политик", "Политика"},
	{"politic", "Политика"},
	{"эконом", "Экономика"},
	{"econom", "Экономика"},
	{"бизнес", "Экономика"},
	{"business", "Экономика"},
	{"технолог", "Технологии"},
	{"technolog", "Технологии"},
	{"наук", "Наука"},
	{"scien", "Наука"},
	{"спорт", "Спорт"},
	{"sport", "Спорт"},
	{"культур", "Культура"},
	{"culture", "Культура"},
	{"серби", "Сербия"},
	{"serbia", "Сербия"},
}

// proseSummary strips JSON noise from a malformed response and keeps the
// first two sentences.
func proseSummary(raw string) string {
	cleaned := strings.NewReplacer("{", " ", "}", " ", "[", " ", "]", " ", "\"", " ", "`", " ").Replace(raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	sentences := splitSentences(cleaned)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}

	return truncate(strings.Join(sentences, " "), 300)
}

// extractiveSummary takes leading sentences of the article, capped in length.
func extractiveSummary(content string) string {
	text := strings.Join(strings.Fields(content), " ")
	if text == "" {
		return ""
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return truncate(text, extractiveSummaryCap)
	}

	var b strings.Builder

	for i, s := range sentences {
		if i == maxExtractiveSentences {
			break
		}

		candidate := s
		if b.Len() > 0 {
			candidate = " " + s
		}

		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(candidate) > extractiveSummaryCap {
			break
		}

		b.WriteString(candidate)
	}

	if b.Len() == 0 {
		return truncate(sentences[0], extractiveSummaryCap)
	}

	return b.String()
}

const maxExtractiveSentences = 5

// splitSentences splits on sentence terminators followed by whitespace, so
// decimal points and abbreviated numbers stay intact.
func splitSentences(s string) []string {
	var (
		out []string
		b   strings.Builder
	)

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])

		if !isSentenceEnd(runes[i]) {
			continue
		}

		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}

		if t := strings.TrimSpace(b.String()); t != "" {
			out = append(out, t)
		}

		b.Reset()
	}

	if t := strings.TrimSpace(b.String()); t != "" {
		out = append(out, t)
	}

	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

// similarityRatio is a character-bigram Dice coefficient in [0,1]. It is the
// near-copy detector for summaries: verbatim text scores close to 1.
func similarityRatio(a, b string) float64 {
	ga := bigrams(a)
	gb := bigrams(b)

	if len(ga) == 0 || len(gb) == 0 {
		if a == b && a != "" {
			return 1
		}

		return 0
	}

	var totalA, totalB, shared int

	for _, n := range ga {
		totalA += n
	}

	for _, n := range gb {
		totalB += n
	}

	for g, n := range ga {
		if m := gb[g]; m > 0 {
			if m < n {
				shared += m
			} else {
				shared += n
			}
		}
	}

	return 2 * float64(shared) / float64(totalA+totalB)
}

func bigrams(s string) map[string]int {
	runes := []rune(s)
	grams := make(map[string]int, len(runes))

	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}

	return grams
}

func hasCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}

	return false
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// cleanStrings trims entries and drops empties.
func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))

	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}

	return out
}

// cleanPlainResponse strips code fences and wrapping quotes from a plain-text
// model response.
func cleanPlainResponse(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.Trim(s, "\"«»")

	return strings.TrimSpace(s)
}

// extractJSONObject finds the JSON object in a response that may be wrapped
// in code fences or prose.
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object in response: %s", truncate(s, 120))
	}

	return s[start : end+1], nil
}

// parseLooseDate accepts ISO dates first, then anything dateparse can read.
func parseLooseDate(value string) (time.Time, bool) {
	s := strings.TrimSpace(value)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
		return time.Time{}, false
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true
	}

	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}

	return t.UTC(), true
}

// withinDateWindow rejects publication dates older than two years or more
// than a day in the future.
func withinDateWindow(t, now time.Time) bool {
	return t.After(now.Add(-dateWindowPast)) && t.Before(now.Add(dateWindowFuture))
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
