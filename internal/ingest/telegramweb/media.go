package telegramweb

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// mediaProbe locates one media kind inside a message container. attrs are
// probed in order on each match; an empty attr list means the URL lives in
// the inline background-image style.
type mediaProbe struct {
	mediaType string
	selector  string
	attrs     []string
	thumb     string
}

// Probe order matters: the photo wrap also matches inside video thumbs, so
// videos go first and their URLs take the slot in the dedup set.
var mediaProbes = []mediaProbe{
	{mediaType: domain.MediaTypeVideo, selector: "video.tgme_widget_message_video", attrs: []string{"src", "data-src"}, thumb: "i.tgme_widget_message_video_thumb"},
	{mediaType: domain.MediaTypeVideo, selector: ".tgme_widget_message_video_player video", attrs: []string{"src"}, thumb: "i.tgme_widget_message_video_thumb"},
	{mediaType: domain.MediaTypeVideo, selector: ".tgme_widget_message_roundvideo video", attrs: []string{"src"}},
	{mediaType: "gif", selector: "video.tgme_widget_message_gif", attrs: []string{"src", "data-src"}},
	{mediaType: domain.MediaTypeAudio, selector: "audio.tgme_widget_message_voice", attrs: []string{"src"}},
	{mediaType: domain.MediaTypeAudio, selector: ".tgme_widget_message_audio audio", attrs: []string{"src"}},
	{mediaType: "sticker", selector: ".tgme_widget_message_sticker_wrap picture img", attrs: []string{"src"}},
	{mediaType: "sticker", selector: "i.tgme_widget_message_sticker"},
	{mediaType: domain.MediaTypePhoto, selector: "a.tgme_widget_message_photo_wrap"},
	{mediaType: domain.MediaTypePhoto, selector: ".tgme_widget_message_photo_wrap"},
	{mediaType: domain.MediaTypePhoto, selector: ".message-photo img", attrs: []string{"src", "data-src"}},
	{mediaType: domain.MediaTypeDocument, selector: "a.tgme_widget_message_document_wrap", attrs: []string{"href"}},
}

// Channel avatars and profile photos render inside the message container
// but are chrome, not content.
var excludedMediaSelectors = []string{
	".tgme_widget_message_owner_photo",
	".tgme_widget_message_user_photo",
	".tgme_widget_message_author_photo",
	".tgme_page_photo_image",
}

// Poll, location and contact widgets carry no downloadable URL; their
// presence is still worth knowing when a message has no text to speak of.
var otherMediaSelectors = []string{
	".tgme_widget_message_poll",
	".tgme_widget_message_location_wrap",
	".tgme_widget_message_contact",
	".tgme_widget_message_venue",
}

var backgroundImageRegex = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

var cdnHostRegex = regexp.MustCompile(`^https://cdn\d+\.(?:t\.me|telesco\.pe)/`)

// URL fragments that mark decoration rather than post content.
var nonContentURLMarkers = []string{
	"emoji", "userpic", "profile_photo", "avatar", "/icon", "favicon",
}

// extractMedia collects the media attachments of one message, deduplicated
// by URL. The exclusion set is gathered before probing so an avatar image
// never slips through as a photo.
func extractMedia(sel *goquery.Selection) []domain.MediaFile {
	excluded := excludedMediaURLs(sel)
	seen := make(map[string]struct{})

	var files []domain.MediaFile

	for _, probe := range mediaProbes {
		sel.Find(probe.selector).Each(func(_ int, node *goquery.Selection) {
			mediaURL := probeURL(node, probe.attrs)

			mediaURL = NormalizeMediaURL(mediaURL)
			if mediaURL == "" {
				return
			}

			if _, skip := excluded[mediaURL]; skip {
				return
			}

			if probe.mediaType == domain.MediaTypePhoto && !isContentImage(mediaURL) {
				return
			}

			if _, dup := seen[mediaURL]; dup {
				return
			}

			seen[mediaURL] = struct{}{}

			file := domain.MediaFile{URL: mediaURL, Type: probe.mediaType}

			if probe.thumb != "" {
				if thumb := NormalizeMediaURL(probeURL(sel.Find(probe.thumb).First(), nil)); thumb != "" {
					file.Thumbnail = thumb
				}
			}

			files = append(files, file)
		})
	}

	return files
}

// hasNonFileMedia reports whether the message carries a widget-only
// attachment (poll, location, contact).
func hasNonFileMedia(sel *goquery.Selection) bool {
	for _, s := range otherMediaSelectors {
		if sel.Find(s).Length() > 0 {
			return true
		}
	}

	return false
}

// probeURL reads the media URL off a node: the given attributes first,
// data- variants next, the inline background-image style last.
func probeURL(node *goquery.Selection, attrs []string) string {
	if node.Length() == 0 {
		return ""
	}

	for _, attr := range attrs {
		if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	for _, attr := range []string{"data-webp", "data-url"} {
		if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}

	if style, ok := node.Attr("style"); ok {
		if m := backgroundImageRegex.FindStringSubmatch(style); m != nil {
			return strings.TrimSpace(m[1])
		}
	}

	return ""
}

func excludedMediaURLs(sel *goquery.Selection) map[string]struct{} {
	excluded := make(map[string]struct{})

	for _, s := range excludedMediaSelectors {
		sel.Find(s).Each(func(_ int, node *goquery.Selection) {
			for _, u := range []string{
				probeURL(node, []string{"src"}),
				probeURL(node.Find("img").First(), []string{"src"}),
			} {
				if u = NormalizeMediaURL(u); u != "" {
					excluded[u] = struct{}{}
				}
			}
		})
	}

	return excluded
}

// NormalizeMediaURL absolutises a media URL the way the preview page embeds
// them: protocol-relative links get https, root-relative paths belong to
// t.me, numbered CDN hosts collapse onto the canonical file host.
func NormalizeMediaURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case strings.HasPrefix(raw, "/"):
		raw = "https://t.me" + raw
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return ""
	}

	if m := cdnHostRegex.FindString(raw); m != "" {
		if i := strings.Index(raw, "/file/"); i >= 0 {
			raw = "https://t.me" + raw[i:]
		}
	}

	return raw
}

// isContentImage filters out decoration: emoji sprites, userpics and icon
// thumbnails are recognisable by URL.
func isContentImage(mediaURL string) bool {
	lower := strings.ToLower(mediaURL)

	for _, marker := range nonContentURLMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}

	return true
}
