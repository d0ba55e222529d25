package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selector ladder for the enhanced strategy, most specific first. Covers
// the markup of the Serbian and Russian news sites the aggregator follows
// plus the generic semantic fallbacks.
var defaultContentSelectors = []string{
	"article [itemprop=articleBody]",
	"[itemprop=articleBody]",
	".article__body",
	".article-body",
	".article-content",
	".article__text",
	".post-content",
	".entry-content",
	".td-post-content",
	".single-content",
	".news-text",
	".content-inner",
	"#article-body",
	"main article",
	"article",
	"main",
}

// Markup that never carries article text.
const boilerplateSelector = "script, style, noscript, iframe, form, nav, header, footer, aside, " +
	".share, .social, .related, .comments, .comment, .advertisement, .banner, .subscribe, .newsletter"

// stripBoilerplate removes navigation and script debris in place. Callers
// parse a fresh document per fetch, so mutating it is fine.
func stripBoilerplate(doc *goquery.Document) {
	doc.Find(boilerplateSelector).Remove()
}

// extractBySelectors walks a selector list and returns the first match
// whose text is long enough to be a candidate, together with the selector
// that hit.
func extractBySelectors(doc *goquery.Document, selectors []string) (string, string) {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}

		text := nodeText(sel)
		if len([]rune(text)) >= minUsefulRunes {
			return text, selector
		}
	}

	return "", ""
}

// extractParagraphs joins every substantial <p> on the page. It is the
// enhanced strategy's fallback when no container selector matches.
func extractParagraphs(doc *goquery.Document) string {
	var parts []string

	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len([]rune(text)) >= 80 {
			parts = append(parts, text)
		}
	})

	return strings.Join(parts, "\n\n")
}

// extractDirect is the last-resort strategy: the whole body text with
// whitespace collapsed per line.
func extractDirect(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}

	return nodeText(body)
}

// nodeText flattens a selection into paragraph-ish text: block children
// become lines, runs of blank lines collapse.
func nodeText(sel *goquery.Selection) string {
	raw := sel.Text()

	var lines []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n\n")
}
