package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// Metadata is what the page itself declares about the article.
type Metadata struct {
	Title       string
	Description string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
}

const minRichDescription = 100

// ExtractMetadata reads structured page metadata, preferring JSON-LD over
// OpenGraph over plain-HTML heuristics. A description shorter than
// minRichDescription runes keeps looking for a richer one down the chain.
func ExtractMetadata(doc *goquery.Document, now time.Time) Metadata {
	meta := extractJSONLD(doc)

	fillFromOpenGraph(doc, &meta)
	fillFromHeuristics(doc, &meta)

	if meta.PublishedAt != nil && !withinDateWindow(*meta.PublishedAt, now) {
		meta.PublishedAt = nil
	}

	return meta
}

// jsonLDArticle mirrors the schema.org Article fields we care about.
// Authors and images come in half a dozen shapes in the wild, hence the
// raw messages.
type jsonLDArticle struct {
	Type          json.RawMessage `json:"@type"`
	Graph         json.RawMessage `json:"@graph"`
	Headline      string          `json:"headline"`
	Description   string          `json:"description"`
	DatePublished string          `json:"datePublished"`
	DateCreated   string          `json:"dateCreated"`
	Author        json.RawMessage `json:"author"`
	Image         json.RawMessage `json:"image"`
}

var articleLDTypes = map[string]bool{
	"Article":              true,
	"NewsArticle":          true,
	"BlogPosting":          true,
	"ReportageNewsArticle": true,
}

func extractJSONLD(doc *goquery.Document) Metadata {
	var meta Metadata

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, node := range parseJSONLDNodes([]byte(sel.Text())) {
			if !isArticleLD(node.Type) {
				continue
			}

			meta.Title = node.Headline
			meta.Description = node.Description
			meta.Author = ldAuthorName(node.Author)
			meta.ImageURL = ldImageURL(node.Image)

			raw := node.DatePublished
			if raw == "" {
				raw = node.DateCreated
			}

			if t, err := dateparse.ParseAny(raw); err == nil {
				meta.PublishedAt = &t
			}

			return false
		}

		return true
	})

	return meta
}

// parseJSONLDNodes flattens a JSON-LD payload: a single object, a top-level
// array, or an object wrapping an @graph array.
func parseJSONLDNodes(raw []byte) []jsonLDArticle {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var nodes []jsonLDArticle
		if err := json.Unmarshal([]byte(trimmed), &nodes); err != nil {
			return nil
		}

		return nodes
	}

	var node jsonLDArticle
	if err := json.Unmarshal([]byte(trimmed), &node); err != nil {
		return nil
	}

	if len(node.Graph) > 0 {
		var nodes []jsonLDArticle
		if err := json.Unmarshal(node.Graph, &nodes); err == nil {
			return nodes
		}
	}

	return []jsonLDArticle{node}
}

// isArticleLD accepts @type as a string or a list of strings.
func isArticleLD(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return articleLDTypes[single]
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if articleLDTypes[t] {
				return true
			}
		}
	}

	return false
}

// ldAuthorName handles "author": "Name", {"name": ...} and [{"name": ...}].
func ldAuthorName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}

	var obj struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}

	var objs []struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 {
		return objs[0].Name
	}

	return ""
}

// ldImageURL handles "image": "url", {"url": ...} and ["url", ...].
func ldImageURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var u string
	if err := json.Unmarshal(raw, &u); err == nil {
		return u
	}

	var obj struct {
		URL string `json:"url"`
	}

	if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
		return obj.URL
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return ldImageURL(list[0])
	}

	return ""
}

func fillFromOpenGraph(doc *goquery.Document, meta *Metadata) {
	if meta.Title == "" {
		meta.Title = metaProperty(doc, "og:title")
	}

	if len([]rune(meta.Description)) < minRichDescription {
		if og := metaProperty(doc, "og:description"); len([]rune(og)) > len([]rune(meta.Description)) {
			meta.Description = og
		}
	}

	if meta.ImageURL == "" {
		meta.ImageURL = metaProperty(doc, "og:image")
	}

	if meta.PublishedAt == nil {
		for _, prop := range []string{"article:published_time", "og:article:published_time", "article:modified_time"} {
			raw := metaProperty(doc, prop)
			if raw == "" {
				continue
			}

			if t, err := dateparse.ParseAny(raw); err == nil {
				meta.PublishedAt = &t

				break
			}
		}
	}
}

func fillFromHeuristics(doc *goquery.Document, meta *Metadata) {
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if len([]rune(meta.Description)) < minRichDescription {
		if d := metaName(doc, "description"); len([]rune(d)) > len([]rune(meta.Description)) {
			meta.Description = d
		}
	}

	if meta.Author == "" {
		meta.Author = metaName(doc, "author")
	}

	if meta.PublishedAt == nil {
		if raw, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			if t, err := dateparse.ParseAny(strings.TrimSpace(raw)); err == nil {
				meta.PublishedAt = &t
			}
		}
	}

	if meta.PublishedAt == nil {
		for _, name := range []string{"date", "pubdate", "publish-date", "dc.date.issued"} {
			raw := metaName(doc, name)
			if raw == "" {
				continue
			}

			if t, err := dateparse.ParseAny(raw); err == nil {
				meta.PublishedAt = &t

				break
			}
		}
	}
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")

	return strings.TrimSpace(content)
}

func metaName(doc *goquery.Document, name string) string {
	content, _ := doc.Find(`meta[name="` + name + `"]`).First().Attr("content")

	return strings.TrimSpace(content)
}

// withinDateWindow bounds a claimed publication date to the plausible
// range: not older than two years, not more than a day in the future.
func withinDateWindow(t, now time.Time) bool {
	return t.After(now.AddDate(-2, 0, 0)) && t.Before(now.Add(24*time.Hour))
}
