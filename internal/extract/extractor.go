// Package extract turns article URLs into clean text. It runs a chain of
// strategies per page, from selectors the domain has already taught us
// down to a headless browser render, and remembers per domain what worked
// so the next fetch starts with the winning move.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/core/llm"
	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/httpclient"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
	db "github.com/lueurxax/news-aggregator/internal/storage"
)

// Strategy names, in default chain order.
const (
	StrategyLearned     = "learned"
	StrategyEnhanced    = "enhanced"
	StrategyReadability = "readability"
	StrategyBrowser     = "browser"
	StrategyCharset     = "charset"
	StrategyDirect      = "direct"
)

var defaultStrategyOrder = []string{
	StrategyLearned,
	StrategyEnhanced,
	StrategyReadability,
	StrategyBrowser,
	StrategyCharset,
	StrategyDirect,
}

var (
	ErrDomainBackoff  = errors.New("domain in backoff")
	ErrNoContent      = errors.New("no content extracted")
	ErrUnsupportedURL = errors.New("unsupported url")
)

const (
	browserWarmupDelay = time.Second
	alternativeDelay   = 500 * time.Millisecond
	discoverySampleLen = 8000
)

// Result is the outcome of one extraction. Accepted reports whether the
// content passed the quality gate; a best-effort fragment comes back with
// Accepted false.
type Result struct {
	URL         string
	Content     string
	Title       string
	Description string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
	Strategy    string
	Selector    string
	Quality     int
	Accepted    bool
}

type Extractor struct {
	cfg     *config.Config
	client  *httpclient.Client
	memory  *Memory
	browser *Browser
	logger  zerolog.Logger
}

func New(cfg *config.Config, client *httpclient.Client, ai *llm.Client, db *db.DB, logger zerolog.Logger) *Extractor {
	var discoverer selectorDiscoverer
	if ai != nil {
		discoverer = ai
	}

	var browser *Browser
	if cfg.BrowserEnabled {
		browser = NewBrowser(cfg.BrowserTimeout, httpclient.BrowserHeaders(0)["User-Agent"], logger)
	}

	return &Extractor{
		cfg:     cfg,
		client:  client,
		memory:  NewMemory(db, discoverer, cfg.DomainCacheTTL, cfg.ExtractionLearning, logger),
		browser: browser,
		logger:  logger.With().Str("component", "extract").Logger(),
	}
}

// Memory exposes the domain memory so callers can read and teach learned
// selectors.
func (e *Extractor) Memory() *Memory {
	return e.memory
}

// ExtractArticle fetches the page and runs the strategy chain on it.
func (e *Extractor) ExtractArticle(ctx context.Context, rawURL string) (*Result, error) {
	cleanURL := CleanURL(rawURL)

	parsed, err := url.Parse(cleanURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%q: %w", rawURL, ErrUnsupportedURL)
	}

	domainName := Domain(cleanURL)

	if e.memory.InBackoff(ctx, domainName) {
		return nil, fmt.Errorf("%s: %w", domainName, ErrDomainBackoff)
	}

	body, err := e.client.Get(ctx, cleanURL, httpclient.BrowserHeaders(0))
	if err != nil {
		e.memory.RecordAllFailed(ctx, domainName, "")

		return nil, fmt.Errorf("fetch %s: %w", cleanURL, err)
	}

	return e.extract(ctx, body, cleanURL, parsed, domainName, true)
}

// ExtractFromHTML runs the strategy chain on HTML the caller already has.
// The browser strategy still re-renders the live page when it gets a turn.
func (e *Extractor) ExtractFromHTML(ctx context.Context, htmlBytes []byte, pageURL string) (*Result, error) {
	cleanURL := CleanURL(pageURL)

	parsed, err := url.Parse(cleanURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%q: %w", pageURL, ErrUnsupportedURL)
	}

	return e.extract(ctx, htmlBytes, cleanURL, parsed, Domain(cleanURL), false)
}

// ExtractBest tries several URLs for the same story (canonical link,
// original source) and returns the first accepted extraction, or the best
// fragment any of them produced.
func (e *Extractor) ExtractBest(ctx context.Context, urls []string) (*Result, error) {
	var (
		best    *Result
		lastErr error
	)

	seen := make(map[string]bool)

	for _, raw := range urls {
		cleanURL := CleanURL(raw)
		if cleanURL == "" || seen[cleanURL] {
			continue
		}

		seen[cleanURL] = true

		if len(seen) > 1 {
			if err := sleepCtx(ctx, alternativeDelay); err != nil {
				return best, err
			}
		}

		res, err := e.ExtractArticle(ctx, cleanURL)
		if err != nil {
			lastErr = err

			continue
		}

		if res.Accepted {
			return res, nil
		}

		if best == nil || res.Quality > best.Quality {
			best = res
		}
	}

	if best != nil {
		return best, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, ErrNoContent
}

type strategyOutcome struct {
	content  string
	selector string
	doc      *goquery.Document
	read     *readabilityResult
	skipped  bool
	err      error
}

func (e *Extractor) extract(ctx context.Context, htmlBytes []byte, cleanURL string, parsed *url.URL, domainName string, network bool) (*Result, error) {
	plan := e.memory.PlanFor(ctx, domainName, network && e.browser != nil)

	// Legacy encodings (windows-1251 mostly) are normalized up front so
	// every strategy sees UTF-8.
	if !utf8.Valid(htmlBytes) {
		if decoded, changed, err := decodeCharset(htmlBytes, "text/html"); err == nil && changed && utf8.Valid(decoded) {
			e.logger.Debug().Str("url", cleanURL).Msg("re-decoded legacy charset")

			htmlBytes = decoded
		}
	}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(htmlBytes))
	if docErr == nil {
		stripBoilerplate(doc)
	}

	var best *Result

	for _, strategy := range plan.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if strategy == StrategyBrowser {
			if err := sleepCtx(ctx, browserWarmupDelay); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		outcome := e.runStrategy(ctx, strategy, htmlBytes, doc, cleanURL, parsed, plan.Selectors)

		if outcome.skipped {
			continue
		}

		elapsed := time.Since(start)
		quality := ScoreContent(outcome.content)
		accepted := outcome.err == nil && AcceptContent(outcome.content)

		e.recordAttempt(ctx, cleanURL, domainName, strategy, outcome, quality, elapsed, accepted)

		if accepted {
			res := e.finalize(cleanURL, strategy, outcome, quality, true)
			e.logger.Debug().Str("url", cleanURL).Str("strategy", strategy).Int("quality", quality).
				Int("chars", len([]rune(res.Content))).Msg("content extracted")

			return res, nil
		}

		if outcome.err == nil && len([]rune(outcome.content)) >= minUsefulRunes {
			if best == nil || quality > best.Quality {
				best = e.finalize(cleanURL, strategy, outcome, quality, false)
			}
		}
	}

	e.memory.RecordAllFailed(ctx, domainName, discoverySample(htmlBytes))

	if best != nil {
		e.logger.Debug().Str("url", cleanURL).Str("strategy", best.Strategy).Int("quality", best.Quality).
			Msg("no strategy passed the quality gate, keeping best fragment")

		return best, nil
	}

	if docErr != nil {
		return nil, fmt.Errorf("parse %s: %w", cleanURL, docErr)
	}

	return nil, fmt.Errorf("%s: %w", cleanURL, ErrNoContent)
}

func (e *Extractor) runStrategy(ctx context.Context, strategy string, htmlBytes []byte, doc *goquery.Document, cleanURL string, parsed *url.URL, learned []string) strategyOutcome {
	switch strategy {
	case StrategyLearned:
		if doc == nil || len(learned) == 0 {
			return strategyOutcome{skipped: true}
		}

		content, selector := extractBySelectors(doc, learned)

		return strategyOutcome{content: content, selector: selector, doc: doc}

	case StrategyEnhanced:
		if doc == nil {
			return strategyOutcome{skipped: true}
		}

		content, selector := extractBySelectors(doc, defaultContentSelectors)
		if content == "" {
			content = extractParagraphs(doc)
		}

		return strategyOutcome{content: content, selector: selector, doc: doc}

	case StrategyReadability:
		read, err := extractReadability(htmlBytes, parsed)
		if err != nil {
			return strategyOutcome{err: err, doc: doc}
		}

		return strategyOutcome{content: read.Content, doc: doc, read: read}

	case StrategyBrowser:
		return e.runBrowser(ctx, cleanURL, parsed)

	case StrategyCharset:
		return e.runCharset(htmlBytes, parsed)

	case StrategyDirect:
		if doc == nil {
			return strategyOutcome{skipped: true}
		}

		return strategyOutcome{content: extractDirect(doc), doc: doc}

	default:
		return strategyOutcome{skipped: true}
	}
}

// runBrowser renders the live page and mines the rendered HTML with
// readability first, selector ladder second.
func (e *Extractor) runBrowser(ctx context.Context, cleanURL string, parsed *url.URL) strategyOutcome {
	if e.browser == nil {
		return strategyOutcome{skipped: true}
	}

	rendered, err := e.browser.Render(ctx, cleanURL)
	if err != nil {
		return strategyOutcome{err: err}
	}

	renderedDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(rendered))
	if err != nil {
		return strategyOutcome{err: fmt.Errorf("parse rendered page: %w", err)}
	}

	stripBoilerplate(renderedDoc)

	outcome := strategyOutcome{doc: renderedDoc}

	if read, rerr := extractReadability(rendered, parsed); rerr == nil {
		outcome.content = read.Content
		outcome.read = read
	}

	if len([]rune(outcome.content)) < minAcceptedRunes {
		if content, selector := extractBySelectors(renderedDoc, defaultContentSelectors); len([]rune(content)) > len([]rune(outcome.content)) {
			outcome.content = content
			outcome.selector = selector
		}
	}

	return outcome
}

// runCharset is the encoding last resort: when the page still is not
// valid UTF-8 after the up-front normalization, force windows-1251 (the
// overwhelmingly common legacy case on the sites we follow) and retry.
// Valid UTF-8 pages skip this strategy without recording an attempt.
func (e *Extractor) runCharset(htmlBytes []byte, parsed *url.URL) strategyOutcome {
	if utf8.Valid(htmlBytes) {
		return strategyOutcome{skipped: true}
	}

	decoded, changed, err := decodeCharset(htmlBytes, "text/html; charset=windows-1251")
	if err != nil {
		return strategyOutcome{err: err}
	}

	if !changed {
		return strategyOutcome{skipped: true}
	}

	decodedDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(decoded))
	if err != nil {
		return strategyOutcome{err: fmt.Errorf("parse re-decoded page: %w", err)}
	}

	stripBoilerplate(decodedDoc)

	outcome := strategyOutcome{doc: decodedDoc}

	if read, rerr := extractReadability(decoded, parsed); rerr == nil {
		outcome.content = read.Content
		outcome.read = read
	}

	if len([]rune(outcome.content)) < minAcceptedRunes {
		if content, selector := extractBySelectors(decodedDoc, defaultContentSelectors); len([]rune(content)) > len([]rune(outcome.content)) {
			outcome.content = content
			outcome.selector = selector
		}
	}

	return outcome
}

func (e *Extractor) recordAttempt(ctx context.Context, cleanURL, domainName, strategy string, outcome strategyOutcome, quality int, elapsed time.Duration, accepted bool) {
	status := "fail"
	if accepted {
		status = "ok"
	}

	observability.ExtractionAttempts.WithLabelValues(strategy, status).Inc()
	observability.ExtractionDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())

	errMsg := ""
	if outcome.err != nil {
		errMsg = outcome.err.Error()
	}

	e.memory.RecordAttempt(ctx, &domain.ExtractionAttempt{
		ArticleURL:       cleanURL,
		Domain:           domainName,
		Strategy:         strategy,
		SelectorUsed:     outcome.selector,
		Success:          accepted,
		ContentLength:    len([]rune(outcome.content)),
		QualityScore:     float32(quality),
		ExtractionTimeMS: elapsed.Milliseconds(),
		ErrorMessage:     errMsg,
	})
}

// finalize assembles the Result: truncated content plus whatever metadata
// the page declares, with readability's own findings as a fallback.
func (e *Extractor) finalize(cleanURL, strategy string, outcome strategyOutcome, quality int, accepted bool) *Result {
	res := &Result{
		URL:      cleanURL,
		Content:  TruncateContent(strings.TrimSpace(outcome.content)),
		Strategy: strategy,
		Selector: outcome.selector,
		Quality:  quality,
		Accepted: accepted,
	}

	now := time.Now()

	var meta Metadata
	if outcome.doc != nil {
		meta = ExtractMetadata(outcome.doc, now)
	}

	res.Title = meta.Title
	res.Description = meta.Description
	res.Author = meta.Author
	res.ImageURL = meta.ImageURL
	res.PublishedAt = meta.PublishedAt

	if outcome.read != nil {
		if res.Title == "" {
			res.Title = outcome.read.Title
		}

		if res.Author == "" {
			res.Author = outcome.read.Byline
		}

		if res.Description == "" {
			res.Description = outcome.read.Excerpt
		}

		if res.PublishedAt == nil && outcome.read.PublishedAt != nil && withinDateWindow(*outcome.read.PublishedAt, now) {
			res.PublishedAt = outcome.read.PublishedAt
		}
	}

	return res
}

// discoverySample is the head of the page handed to AI selector
// discovery.
func discoverySample(htmlBytes []byte) string {
	if len(htmlBytes) > discoverySampleLen {
		htmlBytes = htmlBytes[:discoverySampleLen]
	}

	return string(htmlBytes)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
