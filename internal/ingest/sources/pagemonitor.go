package sources

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/extract"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

const (
	defaultMinTitleLength      = 10
	defaultMaxArticlesPerCheck = 20
	defaultReanalyzeFailures   = 5

	learnedSelectorMinRate = 0.7
	learnedSelectorCount   = 3
	discoveredSelectorRate = 0.75

	maxItemTitleLen       = 200
	maxItemDescriptionLen = 500
	pageSampleLen         = 8000
	listCollapseRatio     = 0.5
)

// Selector ladders tried when a page carries no learned or configured
// structure. Ordered from semantic markup down to last-resort guesses.
var (
	defaultItemSelectors = []string{
		"article", ".article", ".news-item", ".post", ".entry",
		".changelog-item", ".update-item", ".release-note",
		".content li", ".main li", "ul.updates li", "ul.news li",
		".content > div", ".main > div", ".updates > div",
		`[class*="item"]`, `[class*="post"]`, `[class*="article"]`,
		"h2, h3, h4", ".title", ".headline", ".heading",
	}

	defaultTitleSelectors = []string{
		"h1", "h2", "h3", "h4", ".title", ".headline", ".heading",
		"a[href]", ".link", ".post-title", ".article-title",
	}

	defaultDateSelectors = []string{
		"time[datetime]", "time", "[datetime]",
		".date", ".timestamp", ".published", ".publish-date", ".post-date",
		".entry-date", ".article-date", ".release-date", ".changelog-date",
		"[data-time]", `[class*="date"]`,
	}
)

// Content classification patterns. Two or more hits on a class win.
var contentTypeOrder = []string{"changelog", "news", "blog"}

var contentTypePatterns = map[string][]*regexp.Regexp{
	"changelog": {
		regexp.MustCompile(`(?i)\b(version|v\d+|\d+\.\d+)`),
		regexp.MustCompile(`(?i)\b(released?|updated?|fixed?|added?|improved?)`),
		regexp.MustCompile(`(?i)\b(feature|bug|improvement|enhancement)`),
	},
	"news": {
		regexp.MustCompile(`(?i)\b(breaking|urgent|announced?|launched?)`),
		regexp.MustCompile(`(?i)\b(today|yesterday|this week|latest)`),
		regexp.MustCompile(`(?i)\b(update|news|press|release)`),
	},
	"blog": {
		regexp.MustCompile(`(?i)\b(posted|published|written|authored)`),
		regexp.MustCompile(`(?i)\b(tutorial|guide|how.?to|tips)`),
		regexp.MustCompile(`(?i)\b(learn|understand|master)`),
	},
}

// pageMonitor watches an arbitrary web page for new list items. Unlike the
// feed fetchers it has no structured format to lean on: it walks selector
// ladders, remembers which item hashes it has seen, and asks the AI to study
// the page structure when extraction keeps failing.
type pageMonitor struct {
	src    *domain.Source
	client *httpclient.Client
	memory *extract.Memory
	ai     *llm.Client
	db     *db.DB
	logger zerolog.Logger
}

func newPageMonitor(src *domain.Source, deps Deps) Fetcher {
	var memory *extract.Memory
	if deps.Extractor != nil {
		memory = deps.Extractor.Memory()
	}

	return &pageMonitor{
		src:    src,
		client: deps.Client,
		memory: memory,
		ai:     deps.AI,
		db:     deps.DB,
		logger: deps.Logger.With().Str("component", "pagemonitor").Str("source", src.Name).Logger(),
	}
}

// monitorItem is one extracted list entry before normalization.
type monitorItem struct {
	Title       string
	Link        string
	Description string
	Published   time.Time
	ContentType string
}

func (m *pageMonitor) FetchArticles(ctx context.Context, limit int) ([]domain.NormalizedItem, error) {
	maxItems := m.src.ConfigInt("max_articles_per_check", defaultMaxArticlesPerCheck)
	if limit > 0 && limit < maxItems {
		maxItems = limit
	}

	pageURL, err := url.Parse(m.src.URL)
	if err != nil || pageURL.Host == "" {
		return nil, fmt.Errorf("page monitor %q: %w", m.src.URL, ErrInvalidSourceURL)
	}

	body, err := m.client.Get(ctx, m.src.URL, httpclient.BrowserHeaders(0))
	if err != nil {
		m.bumpFailures(ctx)
		return nil, fmt.Errorf("fetch page %s: %w", m.src.URL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		m.bumpFailures(ctx)
		return nil, fmt.Errorf("parse page %s: %w", m.src.URL, err)
	}

	now := time.Now().UTC()
	items := m.extractItems(ctx, doc, pageURL, maxItems, now)

	if listPageCollapsed(items, pageURL.String()) {
		m.logger.Info().Msg("item links collapse to the page itself, studying page structure")

		if m.studyStructure(ctx, body) {
			items = m.extractItems(ctx, doc, pageURL, maxItems, now)
		}
	}

	if len(items) == 0 {
		failures := m.bumpFailures(ctx)
		if failures >= m.src.ConfigInt("reanalyze_after_failures", defaultReanalyzeFailures) {
			if m.studyStructure(ctx, body) {
				items = m.extractItems(ctx, doc, pageURL, maxItems, now)
			}

			m.resetFailures(ctx)
		}

		if len(items) == 0 {
			m.logger.Warn().Msg("no items extracted from page")
			return nil, nil
		}
	}

	m.resetFailures(ctx)

	fresh := m.diffAgainstSnapshot(ctx, body, items)

	out := make([]domain.NormalizedItem, 0, len(fresh))
	for _, it := range fresh {
		out = append(out, domain.NormalizedItem{
			Title:       it.Title,
			URL:         it.Link,
			Content:     it.Description,
			PublishedAt: it.Published,
			Raw:         map[string]any{"content_type": it.ContentType},
		})
	}

	m.logger.Debug().Int("extracted", len(items)).Int("new", len(out)).Msg("page checked")

	return out, nil
}

func (m *pageMonitor) TestConnection(ctx context.Context) error {
	if _, err := m.client.Get(ctx, m.src.URL, httpclient.BrowserHeaders(0)); err != nil {
		return fmt.Errorf("fetch page %s: %w", m.src.URL, err)
	}

	return nil
}

// diffAgainstSnapshot drops items whose hash was present in the previous
// check and stores the current hash set. The stored set always mirrors the
// page as it is now; items that scroll off the page are forgotten with it.
func (m *pageMonitor) diffAgainstSnapshot(ctx context.Context, body []byte, items []monitorItem) []monitorItem {
	hashes := make([]string, len(items))
	for i := range items {
		hashes[i] = itemHash(items[i])
	}

	prev, err := m.db.GetPageSnapshot(ctx, m.src.ID)
	if err != nil {
		m.logger.Warn().Err(err).Msg("load page snapshot failed, treating all items as new")
	}

	fresh := items

	if prev != nil {
		known := make(map[string]struct{}, len(prev.ArticleHashes))
		for _, h := range prev.ArticleHashes {
			known[h] = struct{}{}
		}

		fresh = fresh[:0:0]

		for i := range items {
			if _, ok := known[hashes[i]]; !ok {
				fresh = append(fresh, items[i])
			}
		}
	}

	snap := &db.PageSnapshot{
		SourceID:      m.src.ID,
		ContentHash:   md5hex(body),
		ArticleHashes: hashes,
	}
	if err := m.db.UpsertPageSnapshot(ctx, snap); err != nil {
		m.logger.Warn().Err(err).Msg("store page snapshot failed")
	}

	return fresh
}

// extractItems tries learned selectors first, then the configured or default
// ladder. Titles are deduplicated case-insensitively across selectors.
func (m *pageMonitor) extractItems(ctx context.Context, doc *goquery.Document, pageURL *url.URL, maxItems int, now time.Time) []monitorItem {
	minTitle := m.src.ConfigInt("min_title_length", defaultMinTitleLength)

	if items := m.extractWithLearned(ctx, doc, pageURL, minTitle, maxItems, now); len(items) > 0 {
		return items
	}

	selectors := m.src.ConfigStrings("article_selectors")
	if len(selectors) == 0 {
		selectors = defaultItemSelectors
	}

	var items []monitorItem

	seen := make(map[string]struct{})

	for _, sel := range selectors {
		items = append(items, m.extractWithSelector(doc, sel, pageURL, minTitle, now, seen)...)
		if len(items) >= maxItems {
			break
		}
	}

	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

// extractWithLearned walks AI-learned selectors best first; the first one
// that yields items wins.
func (m *pageMonitor) extractWithLearned(ctx context.Context, doc *goquery.Document, pageURL *url.URL, minTitle, maxItems int, now time.Time) []monitorItem {
	if m.memory == nil {
		return nil
	}

	learned := m.memory.LearnedSelectors(ctx, extract.Domain(m.src.URL), learnedSelectorMinRate, learnedSelectorCount)

	for _, sel := range learned {
		items := m.extractWithSelector(doc, sel, pageURL, minTitle, now, make(map[string]struct{}))
		if len(items) == 0 {
			continue
		}

		if len(items) > maxItems {
			items = items[:maxItems]
		}

		m.logger.Debug().Str("selector", sel).Int("items", len(items)).Msg("learned selector matched")

		return items
	}

	return nil
}

func (m *pageMonitor) extractWithSelector(doc *goquery.Document, selector string, pageURL *url.URL, minTitle int, now time.Time, seenTitles map[string]struct{}) []monitorItem {
	var items []monitorItem

	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		item, ok := m.extractItem(sel, pageURL, minTitle, now)
		if !ok {
			return
		}

		key := strings.ToLower(item.Title)
		if _, dup := seenTitles[key]; dup {
			return
		}

		seenTitles[key] = struct{}{}

		items = append(items, item)
	})

	return items
}

func (m *pageMonitor) extractItem(sel *goquery.Selection, pageURL *url.URL, minTitle int, now time.Time) (monitorItem, bool) {
	titleSelectors := m.src.ConfigStrings("title_selectors")
	if len(titleSelectors) == 0 {
		titleSelectors = defaultTitleSelectors
	}

	title := extractItemTitle(sel, titleSelectors, minTitle)
	if utf8.RuneCountInString(title) < minTitle {
		return monitorItem{}, false
	}

	desc := truncateRunes(collapseWhitespace(sel.Text()), maxItemDescriptionLen)

	published, ok := extractItemDate(sel, m.src.ConfigStrings("date_selectors"), now)
	if !ok {
		published = now
	}

	return monitorItem{
		Title:       title,
		Link:        extractItemLink(sel, pageURL),
		Description: desc,
		Published:   published,
		ContentType: classifyContent(title, desc),
	}, true
}

// extractItemTitle probes title selectors inside the item, falling back to
// the first text line long enough to be a headline.
func extractItemTitle(sel *goquery.Selection, selectors []string, minLen int) string {
	for _, s := range selectors {
		if t := collapseWhitespace(sel.Find(s).First().Text()); t != "" {
			return truncateRunes(t, maxItemTitleLen)
		}
	}

	for _, line := range strings.Split(sel.Text(), "\n") {
		line = collapseWhitespace(line)
		if utf8.RuneCountInString(line) >= minLen {
			return truncateRunes(line, maxItemTitleLen)
		}
	}

	return ""
}

// extractItemLink resolves the item's own link: an anchor inside the item,
// or the item wrapped in an anchor, or the page itself.
func extractItemLink(sel *goquery.Selection, pageURL *url.URL) string {
	link := sel.Find("a[href]").First()
	if link.Length() == 0 {
		link = sel.Closest("a[href]")
	}

	href, _ := link.Attr("href")

	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return pageURL.String()
	}

	abs, err := pageURL.Parse(href)
	if err != nil {
		return pageURL.String()
	}

	return abs.String()
}

func extractItemDate(sel *goquery.Selection, selectors []string, now time.Time) (time.Time, bool) {
	if len(selectors) == 0 {
		selectors = defaultDateSelectors
	}

	for _, s := range selectors {
		node := sel.Find(s).First()
		if node.Length() == 0 {
			continue
		}

		if dt, ok := node.Attr("datetime"); ok {
			if t, ok := parseFlexibleDate(dt, now); ok {
				return t, true
			}
		}

		if t, ok := parseFlexibleDate(node.Text(), now); ok {
			return t, true
		}
	}

	return findEmbeddedDate(sel.Text(), now)
}

func classifyContent(title, desc string) string {
	text := strings.ToLower(title + " " + desc)

	for _, class := range contentTypeOrder {
		matches := 0

		for _, re := range contentTypePatterns[class] {
			if re.MatchString(text) {
				matches++
			}
		}

		if matches >= 2 {
			return class
		}
	}

	return "general"
}

// listPageCollapsed reports whether extraction produced items that all point
// back at the listing page, the usual sign the selectors grabbed the page
// chrome instead of individual entries.
func listPageCollapsed(items []monitorItem, pageURL string) bool {
	if len(items) == 0 {
		return false
	}

	samePage := 0
	links := make(map[string]struct{}, len(items))

	for _, it := range items {
		links[it.Link] = struct{}{}

		if it.Link == pageURL {
			samePage++
		}
	}

	if float64(samePage)/float64(len(items)) > listCollapseRatio {
		return true
	}

	return len(items) > 1 && len(links) == 1
}

// studyStructure asks the AI to name item selectors for this page and
// records them as learned. Reports whether new selectors arrived.
func (m *pageMonitor) studyStructure(ctx context.Context, body []byte) bool {
	if m.ai == nil || !m.ai.Available() || m.memory == nil {
		return false
	}

	sample := body
	if len(sample) > pageSampleLen {
		sample = sample[:pageSampleLen]
	}

	domainName := extract.Domain(m.src.URL)

	selectors, err := m.ai.DiscoverSelectors(ctx, string(sample), domainName)
	if err != nil {
		m.logger.Warn().Err(err).Msg("page structure analysis failed")
		return false
	}

	if len(selectors) == 0 {
		return false
	}

	m.memory.LearnSelectors(ctx, domainName, selectors, discoveredSelectorRate)
	m.logger.Info().Int("selectors", len(selectors)).Msg("learned page structure selectors")

	return true
}

func (m *pageMonitor) failureKey() string {
	return fmt.Sprintf("monitor_failures:%d", m.src.ID)
}

// bumpFailures increments the persistent extraction failure counter. The
// counter is advisory, so storage errors only log.
func (m *pageMonitor) bumpFailures(ctx context.Context) int {
	var count int

	if _, err := m.db.GetAppSetting(ctx, m.failureKey(), &count); err != nil {
		m.logger.Warn().Err(err).Msg("load failure counter")
	}

	count++

	if err := m.db.SetAppSetting(ctx, m.failureKey(), count); err != nil {
		m.logger.Warn().Err(err).Msg("store failure counter")
	}

	return count
}

func (m *pageMonitor) resetFailures(ctx context.Context) {
	if err := m.db.SetAppSetting(ctx, m.failureKey(), 0); err != nil {
		m.logger.Warn().Err(err).Msg("reset failure counter")
	}
}

func itemHash(it monitorItem) string {
	return md5hex([]byte(it.Title + "|" + it.Link + "|" + truncateRunes(it.Description, 100)))
}

func md5hex(b []byte) string {
	sum := md5.Sum(b) //nolint:gosec // change detection, not security
	return hex.EncodeToString(sum[:])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max])
}
