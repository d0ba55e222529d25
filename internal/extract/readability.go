package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// readabilityResult is what the readability strategy recovers besides the
// text body.
type readabilityResult struct {
	Content     string
	Title       string
	Byline      string
	Excerpt     string
	PublishedAt *time.Time
}

func extractReadability(htmlBytes []byte, pageURL *url.URL) (*readabilityResult, error) {
	article, err := readability.FromReader(bytes.NewReader(htmlBytes), pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability parse: %w", err)
	}

	content := article.TextContent
	if content == "" {
		content = article.Content
	}

	return &readabilityResult{
		Content:     content,
		Title:       article.Title,
		Byline:      article.Byline,
		Excerpt:     article.Excerpt,
		PublishedAt: article.PublishedTime,
	}, nil
}

// decodeCharset re-decodes a page whose bytes may be in a legacy encoding
// (windows-1251 is still common on the sites we follow). It relies on the
// BOM and <meta charset> sniffing; a page already in UTF-8 comes back
// byte-identical.
func decodeCharset(htmlBytes []byte, contentType string) ([]byte, bool, error) {
	reader, err := charset.NewReader(bytes.NewReader(htmlBytes), contentType)
	if err != nil {
		return nil, false, fmt.Errorf("charset detect: %w", err)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("charset decode: %w", err)
	}

	return decoded, !bytes.Equal(decoded, htmlBytes), nil
}
