// Package htmlutils prepares digest text for Telegram: whitelist-based
// HTML sanitizing and UTF-16-aware truncation. Telegram counts message
// length in UTF-16 code units and rejects markup outside its small tag
// set, so both operations work in those terms.
package htmlutils

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf16"
)

// UTF16Len returns the string length in UTF-16 code units, the unit
// Telegram measures message limits in. Characters outside the BMP count
// as two units (a surrogate pair).
func UTF16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// utf16Slice returns the longest prefix of s that fits maxUnits code units.
func utf16Slice(s string, maxUnits int) string {
	units := 0

	for i, r := range s {
		w := 1
		if r > 0xFFFF {
			w = 2
		}

		if units+w > maxUnits {
			return s[:i]
		}

		units += w
	}

	return s
}

var (
	tagRe  = regexp.MustCompile(`<(/?)([a-zA-Z0-9-]+)([^>]*)>`)
	hrefRe = regexp.MustCompile(`(?i)\s*href\s*=\s*["']([^"']*)["']`)
)

// allowedTags is Telegram's HTML whitelist for bot messages.
var allowedTags = map[string]bool{
	"b":          true,
	"strong":     true,
	"i":          true,
	"em":         true,
	"u":          true,
	"ins":        true,
	"s":          true,
	"strike":     true,
	"del":        true,
	"a":          true,
	"code":       true,
	"pre":        true,
	"tg-spoiler": true,
}

var badProtocols = []string{"javascript:", "vbscript:", "data:"}

// SanitizeHTML keeps only Telegram-supported tags and escapes everything
// else. Anchors keep a safe href and nothing more; other kept tags lose
// their attributes. Tags still open at the end are closed, stray closing
// tags are dropped, and closing a tag implicitly closes anything opened
// after it.
func SanitizeHTML(text string) string {
	var (
		sb   strings.Builder
		open []string
	)

	last := 0

	for _, loc := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		sb.WriteString(html.EscapeString(text[last:loc[0]]))

		closing := loc[3] > loc[2]
		name := strings.ToLower(text[loc[4]:loc[5]])

		switch {
		case !allowedTags[name]:
			// Escaped-away tag: emit nothing.
		case closing:
			if i := lastOpen(open, name); i >= 0 {
				sb.WriteString("</" + name + ">")
				open = open[:i]
			}
		case name == "a":
			sb.WriteString(safeAnchor(text[loc[0]:loc[1]]))
			open = append(open, name)
		default:
			sb.WriteString("<" + name + ">")
			open = append(open, name)
		}

		last = loc[1]
	}

	sb.WriteString(html.EscapeString(text[last:]))

	for i := len(open) - 1; i >= 0; i-- {
		sb.WriteString("</" + open[i] + ">")
	}

	return sb.String()
}

func lastOpen(open []string, name string) int {
	for i := len(open) - 1; i >= 0; i-- {
		if open[i] == name {
			return i
		}
	}

	return -1
}

// safeAnchor reduces an <a ...> tag to a bare href attribute. Anchors
// without a usable href stay as <a> so the matching close tag still pairs.
func safeAnchor(tag string) string {
	m := hrefRe.FindStringSubmatch(tag)
	if m == nil {
		return "<a>"
	}

	href := m[1]
	lower := strings.ToLower(strings.TrimSpace(href))

	for _, proto := range badProtocols {
		if strings.HasPrefix(lower, proto) {
			return "<a>"
		}
	}

	return `<a href="` + html.EscapeString(href) + `">`
}

// cutSeparators are tried in order when a cut point is needed: paragraph
// break, sentence end, line break, word break.
var cutSeparators = []string{"\n\n", ". ", "! ", "? ", "\n", " "}

// TruncateHTML shortens text to at most limit UTF-16 code units of
// visible content, cutting at the latest paragraph, sentence, line or
// word boundary inside the budget. Tags do not count toward the limit;
// tags left open by the cut are closed (the appended closers may push
// the raw string slightly past limit, callers keep headroom for that).
func TruncateHTML(text string, limit int) string {
	if UTF16Len(stripTags(text)) <= limit {
		return text
	}

	var (
		sb   strings.Builder
		open []string
	)

	budget := limit
	last := 0
	cut := false

	for _, loc := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		seg := text[last:loc[0]]

		segLen := UTF16Len(seg)
		if segLen > budget {
			sb.WriteString(cutAtBoundary(seg, budget))

			cut = true

			break
		}

		sb.WriteString(seg)

		budget -= segLen

		closing := loc[3] > loc[2]
		name := strings.ToLower(text[loc[4]:loc[5]])

		if closing {
			if i := lastOpen(open, name); i >= 0 {
				open = open[:i]
			}
		} else {
			open = append(open, name)
		}

		sb.WriteString(text[loc[0]:loc[1]])

		last = loc[1]
	}

	if !cut {
		sb.WriteString(cutAtBoundary(text[last:], budget))
	}

	out := strings.TrimRight(sb.String(), " \t\n")

	for i := len(open) - 1; i >= 0; i-- {
		out += "</" + open[i] + ">"
	}

	return out
}

// cutAtBoundary returns the prefix of seg that fits budget units, pulled
// back to the nearest separator so the cut does not land mid-sentence.
func cutAtBoundary(seg string, budget int) string {
	if UTF16Len(seg) <= budget {
		return seg
	}

	prefix := utf16Slice(seg, budget)

	for _, sep := range cutSeparators {
		if pos := strings.LastIndex(prefix, sep); pos > 0 {
			return strings.TrimRight(prefix[:pos+len(sep)], " ")
		}
	}

	return prefix
}

func stripTags(text string) string {
	return tagRe.ReplaceAllString(text, "")
}
