package extract

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Zero-width characters that survive copy-paste from Telegram posts and
// break URL parsing.
var zeroWidthReplacer = strings.NewReplacer(
	"​", "",
	"‌", "",
	"‍", "",
	"⁠", "",
	"\uFEFF", "",
)

// CleanURL normalizes a pasted URL: trims whitespace, strips zero-width
// characters, applies NFKC so fullwidth lookalikes collapse to ASCII, and
// drops the fragment. On anything unparseable or non-HTTP it returns the
// trimmed input unchanged.
func CleanURL(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = zeroWidthReplacer.Replace(cleaned)
	cleaned = norm.NFKC.String(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	u, err := url.Parse(cleaned)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return cleaned
	}

	u.Fragment = ""

	return u.String()
}

// Domain returns the lowercased host of a URL, without any www prefix.
// An unparseable URL yields "".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())

	return strings.TrimPrefix(host, "www.")
}
