package htmlutils

import (
	"strings"
	"testing"
)

func TestUTF16Len(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 3},
		{"привет", 6},
		{"🔥", 2}, // outside BMP: surrogate pair
		{"a🔥b", 4},
	}

	for _, tt := range tests {
		if got := UTF16Len(tt.in); got != tt.want {
			t.Errorf("UTF16Len(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUTF16Slice(t *testing.T) {
	if got := utf16Slice("a🔥b", 2); got != "a" {
		t.Errorf("utf16Slice mid-pair = %q, want %q", got, "a")
	}

	if got := utf16Slice("a🔥b", 3); got != "a🔥" {
		t.Errorf("utf16Slice = %q, want %q", got, "a🔥")
	}

	if got := utf16Slice("abc", 10); got != "abc" {
		t.Errorf("utf16Slice over length = %q, want %q", got, "abc")
	}
}

func TestSanitizeHTMLKeepsAllowedTags(t *testing.T) {
	in := "<b>Новости</b> и <i>детали</i>"

	if got := SanitizeHTML(in); got != in {
		t.Errorf("SanitizeHTML = %q, want unchanged", got)
	}
}

func TestSanitizeHTMLDropsDisallowed(t *testing.T) {
	got := SanitizeHTML(`<script>alert(1)</script><div>text</div>`)

	if strings.Contains(got, "<script") || strings.Contains(got, "<div") {
		t.Errorf("SanitizeHTML kept a disallowed tag: %q", got)
	}

	if !strings.Contains(got, "alert(1)") || !strings.Contains(got, "text") {
		t.Errorf("SanitizeHTML lost inner text: %q", got)
	}
}

func TestSanitizeHTMLStripsAttributes(t *testing.T) {
	got := SanitizeHTML(`<b class="x" onclick="evil()">bold</b>`)

	if got != "<b>bold</b>" {
		t.Errorf("SanitizeHTML = %q, want %q", got, "<b>bold</b>")
	}
}

func TestSanitizeHTMLAnchor(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"keeps safe href only",
			`<a href="https://example.com/a" target="_blank">читать</a>`,
			`<a href="https://example.com/a">читать</a>`,
		},
		{
			"drops javascript href",
			`<a href="javascript:alert(1)">x</a>`,
			`<a>x</a>`,
		},
		{
			"no href",
			`<a target="_blank">x</a>`,
			`<a>x</a>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeHTML(tt.in); got != tt.want {
				t.Errorf("SanitizeHTML = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeHTMLClosesUnclosed(t *testing.T) {
	got := SanitizeHTML("<b>жирный <i>курсив")

	if got != "<b>жирный <i>курсив</i></b>" {
		t.Errorf("SanitizeHTML = %q", got)
	}
}

func TestSanitizeHTMLDropsStrayClose(t *testing.T) {
	got := SanitizeHTML("текст</b> хвост")

	if strings.Contains(got, "</b>") {
		t.Errorf("SanitizeHTML kept a stray closing tag: %q", got)
	}
}

func TestSanitizeHTMLEscapesText(t *testing.T) {
	got := SanitizeHTML("a < b и <b>c & d</b>")

	if got != "a &lt; b и <b>c &amp; d</b>" {
		t.Errorf("SanitizeHTML = %q", got)
	}
}

func TestTruncateHTMLShortTextUnchanged(t *testing.T) {
	in := "<b>Заголовок</b>\nКороткий текст."

	if got := TruncateHTML(in, 100); got != in {
		t.Errorf("TruncateHTML = %q, want unchanged", got)
	}
}

func TestTruncateHTMLCutsAtSentence(t *testing.T) {
	in := "Первое предложение. Второе предложение. Третье предложение."

	got := TruncateHTML(in, 45)

	if !strings.HasSuffix(got, ".") {
		t.Errorf("TruncateHTML did not end on a sentence: %q", got)
	}

	if UTF16Len(got) > 45 {
		t.Errorf("TruncateHTML length %d > 45: %q", UTF16Len(got), got)
	}

	if !strings.Contains(got, "Первое предложение.") {
		t.Errorf("TruncateHTML lost the first sentence: %q", got)
	}
}

func TestTruncateHTMLClosesOpenTags(t *testing.T) {
	in := "<b>Очень длинный жирный заголовок который придется резать</b>"

	got := TruncateHTML(in, 20)

	if !strings.HasPrefix(got, "<b>") || !strings.HasSuffix(got, "</b>") {
		t.Errorf("TruncateHTML left the tag open: %q", got)
	}
}

func TestTruncateHTMLTagsDoNotCount(t *testing.T) {
	// 10 visible units wrapped in tags: fits a limit of 10 untouched.
	in := "<b><i>0123456789</i></b>"

	if got := TruncateHTML(in, 10); got != in {
		t.Errorf("TruncateHTML = %q, want unchanged", got)
	}
}

func TestTruncateHTMLSurrogatePairs(t *testing.T) {
	in := "🔥🔥🔥🔥🔥 новости дня и еще много текста про все на свете"

	got := TruncateHTML(in, 12)

	if UTF16Len(got) > 12 {
		t.Errorf("TruncateHTML length %d > 12: %q", UTF16Len(got), got)
	}
}
