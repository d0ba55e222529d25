package telegramweb

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

const (
	minMessageLen    = 10
	metaFallbackLen  = 20
	minTitleLineLen  = 10
	titleBreakFloor  = 60
	maxTitleLen      = 120
	maxHashtags      = 20
	maxExternalLinks = 5
)

// Message is one channel post parsed out of the preview page.
type Message struct {
	ID            string
	URL           string
	Text          string
	PostedAt      time.Time
	Media         []domain.MediaFile
	HasOtherMedia bool
	Links         []string
	Forwarded     string
}

// Selector ladders for the widget markup and the older page variants.
var (
	messageContainerSelectors = []string{".tgme_widget_message", ".message", "[data-post]"}

	messageTextSelectors = []string{
		".tgme_widget_message_text", ".message-text", ".text", `div[dir="ltr"]`,
		".tgme_widget_message_text_wrapper", ".message_text", ".post-content",
	}

	messageDateSelectors = []string{"time[datetime]", ".datetime", ".date", "[data-time]"}

	linkPreviewSelectors = []string{
		".tgme_widget_message_link_preview a[href]",
		".link_preview a[href]",
		".tgme_widget_message_forwarded_from a[href]",
	}
)

var (
	channelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`t\.me/s/([^/?#]+)`),
		regexp.MustCompile(`t\.me/([^/?#]+)`),
		regexp.MustCompile(`telegram\.me/s/([^/?#]+)`),
		regexp.MustCompile(`telegram\.me/([^/?#]+)`),
	}

	trailingDigitsRegex = regexp.MustCompile(`/(\d+)/?$`)

	// Go's \w is ASCII-only; channel posts hashtag in Cyrillic.
	hashtagRegex = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

	controlCharRegex    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)
	trailingChromeRegex = regexp.MustCompile(`(?i)\s*(view in telegram|open in telegram)\s*$`)
	titleNoiseRegex     = regexp.MustCompile(`(?i)^(forwarded from|reply to|@\w+:?)\s*`)
)

var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"fbclid", "gclid", "_ga", "mc_cid", "mc_eid",
}

var socialHosts = []string{
	"facebook.com", "twitter.com", "x.com", "instagram.com", "vk.com",
	"ok.ru", "youtube.com", "youtu.be", "t.me", "telegram.me",
}

var titleEmojiPrefixes = []string{"🔗", "📎", "📷", "🎥", "📄"}

var titleBreaks = []string{". ", "! ", "? ", ": ", " - ", " – ", " — "}

// NormalizeChannelUsername extracts the bare channel username from whatever
// operators paste: t.me links, s/ preview links, @names or the plain
// username.
func NormalizeChannelUsername(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	u = strings.TrimPrefix(u, "@")

	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}

	for _, re := range channelPatterns {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}

	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}

	return u
}

// parseMessages walks the message containers of a channel preview page.
// Containers that yield no usable text are dropped.
func parseMessages(doc *goquery.Document, channel string, now time.Time) []Message {
	var containers *goquery.Selection

	for _, s := range messageContainerSelectors {
		if found := doc.Find(s); found.Length() > 0 {
			containers = found
			break
		}
	}

	if containers == nil {
		return nil
	}

	var messages []Message

	containers.Each(func(_ int, sel *goquery.Selection) {
		if msg, ok := parseMessage(sel, doc, channel, now); ok {
			messages = append(messages, msg)
		}
	})

	return messages
}

// parseMessage extracts the text before anything else: the text fallback
// strips the widget chrome out of the container, and the URL and date
// ladders below see the container as the fallback left it.
func parseMessage(sel *goquery.Selection, doc *goquery.Document, channel string, now time.Time) (Message, bool) {
	text := messageText(sel)

	if utf8.RuneCountInString(text) < metaFallbackLen {
		if meta := pageDescription(doc); meta != "" {
			text = meta
		}
	}

	text = CleanContent(text)

	if utf8.RuneCountInString(text) < minMessageLen {
		return Message{}, false
	}

	msgURL := messageURL(sel, channel)

	return Message{
		ID:            messageID(sel, msgURL),
		URL:           msgURL,
		Text:          text,
		PostedAt:      messageDate(sel, now),
		Media:         extractMedia(sel),
		HasOtherMedia: hasNonFileMedia(sel),
		Links:         externalLinks(sel),
		Forwarded:     forwardedFrom(sel),
	}, true
}

// messageText pulls the post body out of a message container. Quoted reply
// blocks go first so a reply's text is not mistaken for the post. The last
// resort strips the footer and takes whatever text remains; the date anchor
// goes with the footer, so the message URL then falls back to the channel
// URL.
func messageText(sel *goquery.Selection) string {
	sel.Find(".tgme_widget_message_reply").Remove()

	for _, s := range messageTextSelectors {
		node := sel.Find(s).First()
		if node.Length() == 0 {
			continue
		}

		if text := renderText(node); text != "" {
			return text
		}
	}

	sel.Find(".tgme_widget_message_footer, .tgme_widget_message_info, .tgme_widget_message_date").Remove()

	return renderText(sel)
}

// blockBoundaryTags force a line break in extracted text.
var blockBoundaryTags = map[string]struct{}{
	"br": {}, "p": {}, "div": {}, "li": {}, "blockquote": {},
}

// renderText flattens markup to plain text while keeping the line
// structure: <br> and block element boundaries become newlines. Plain
// Text() would glue lines together and break headline extraction.
func renderText(sel *goquery.Selection) string {
	var b strings.Builder

	for _, node := range sel.Nodes {
		writeNodeText(&b, node)
	}

	return strings.TrimSpace(b.String())
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
	case html.ElementNode:
		if _, block := blockBoundaryTags[n.Data]; block {
			b.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
}

func pageDescription(doc *goquery.Document) string {
	for _, s := range []string{
		`meta[property="og:description"]`,
		`meta[name="description"]`,
		`meta[name="twitter:description"]`,
	} {
		if content, ok := doc.Find(s).First().Attr("content"); ok {
			if c := strings.TrimSpace(content); c != "" {
				return c
			}
		}
	}

	return ""
}

// messageURL resolves a post's own link: the date anchor in the usual
// markup, then any in-page anchor, then the channel page itself.
func messageURL(sel *goquery.Selection, channel string) string {
	for _, s := range []string{"a.tgme_widget_message_date", `a[href*="/"]`, ".message-link"} {
		href, ok := sel.Find(s).First().Attr("href")
		if !ok {
			continue
		}

		href = strings.TrimSpace(href)

		switch {
		case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
			return href
		case strings.HasPrefix(href, "/"):
			return "https://t.me" + href
		}
	}

	return "https://t.me/" + channel
}

func messageID(sel *goquery.Selection, msgURL string) string {
	if post, ok := sel.Attr("data-post"); ok && post != "" {
		parts := strings.Split(post, "/")
		return parts[len(parts)-1]
	}

	if m := trailingDigitsRegex.FindStringSubmatch(msgURL); m != nil {
		return m[1]
	}

	return ""
}

func messageDate(sel *goquery.Selection, now time.Time) time.Time {
	for _, s := range messageDateSelectors {
		node := sel.Find(s).First()
		if node.Length() == 0 {
			continue
		}

		if dt, ok := node.Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt)); err == nil {
				return t.UTC()
			}
		}

		if ts, ok := node.Attr("data-time"); ok {
			if epoch, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil && epoch > 0 {
				return time.Unix(epoch, 0).UTC()
			}
		}
	}

	return now
}

// externalLinks collects off-Telegram links, preferring the link preview
// block over a scan of every anchor in the message.
func externalLinks(sel *goquery.Selection) []string {
	var anchors *goquery.Selection

	for _, s := range linkPreviewSelectors {
		if found := sel.Find(s); found.Length() > 0 {
			anchors = found
			break
		}
	}

	if anchors == nil {
		anchors = sel.Find("a[href]")
	}

	seen := make(map[string]struct{})

	var links []string

	anchors.Each(func(_ int, a *goquery.Selection) {
		if len(links) >= maxExternalLinks {
			return
		}

		href, _ := a.Attr("href")

		link := NormalizeExternalURL(href)
		if link == "" {
			return
		}

		if _, dup := seen[link]; dup {
			return
		}

		seen[link] = struct{}{}

		links = append(links, link)
	})

	return links
}

// NormalizeExternalURL keeps only off-Telegram http(s) links and strips the
// common tracking parameters.
func NormalizeExternalURL(href string) string {
	href = strings.TrimSpace(href)

	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}

	if strings.Contains(href, "t.me") || strings.Contains(href, "telegram.me") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}

	u.RawQuery = q.Encode()

	return u.String()
}

// FindOriginalLink picks the first external link that points at an article
// rather than another social network.
func FindOriginalLink(links []string) string {
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}

		host := strings.ToLower(u.Hostname())

		social := false

		for _, s := range socialHosts {
			if strings.Contains(host, s) {
				social = true
				break
			}
		}

		if !social {
			return link
		}
	}

	return ""
}

func forwardedFrom(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Find(".tgme_widget_message_forwarded_from").First().Text())
}

// CleanContent normalizes message text: control characters go, the line
// structure stays, trailing widget labels are cut and blank runs collapse
// to a single empty line.
func CleanContent(text string) string {
	text = controlCharRegex.ReplaceAllString(text, "")
	text = trailingChromeRegex.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")

		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}

			blank = true

			continue
		}

		blank = false

		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	return strings.Join(out, "\n")
}

// ExtractTitle derives a headline from message text: the first substantial
// line, cleaned of forward/reply noise and cut at a sentence boundary when
// it runs long.
func ExtractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = titleNoiseRegex.ReplaceAllString(strings.TrimSpace(line), "")

		for stripped := true; stripped; {
			stripped = false

			line = strings.TrimSpace(line)

			for _, emoji := range titleEmojiPrefixes {
				if strings.HasPrefix(line, emoji) {
					line = strings.TrimPrefix(line, emoji)
					stripped = true
				}
			}
		}

		if utf8.RuneCountInString(line) < minTitleLineLen {
			continue
		}

		return smartTruncate(line, maxTitleLen)
	}

	return "Telegram Post"
}

// smartTruncate cuts at the rightmost sentence boundary inside max runes,
// as long as the boundary is not so early the title loses its meaning;
// otherwise it drops the trailing word and marks the cut with an ellipsis.
func smartTruncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	head := string(runes[:max])

	best := -1

	for _, br := range titleBreaks {
		if i := strings.LastIndex(head, br); i > best {
			best = i
		}
	}

	if best >= 0 && utf8.RuneCountInString(head[:best]) > titleBreakFloor {
		return strings.TrimSpace(head[:best+1])
	}

	if i := strings.LastIndexByte(head, ' '); i > 0 {
		return strings.TrimSpace(head[:i]) + "..."
	}

	return string(runes[:max-3]) + "..."
}

// ExtractHashtags returns up to 20 distinct hashtags, lowercased, in order
// of first appearance.
func ExtractHashtags(content string) []string {
	matches := hashtagRegex.FindAllStringSubmatch(content, -1)

	seen := make(map[string]struct{}, len(matches))

	var tags []string

	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}

		tags = append(tags, tag)
		if len(tags) >= maxHashtags {
			break
		}
	}

	return tags
}
