package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Publication dates older than two years or more than a day ahead are
// treated as extraction noise and dropped.
const (
	maxDateAge    = 730 * 24 * time.Hour
	maxDateAhead  = 24 * time.Hour
	dateScanLimit = 300
)

var (
	relativeAgoRegex = regexp.MustCompile(`(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago`)
	monthYearRegex   = regexp.MustCompile(`^([a-z]+)\s+(\d{4})$`)
	yearMonthRegex   = regexp.MustCompile(`^(\d{4})-(\d{1,2})$`)

	monthNames = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}

	// Date shapes worth scanning free text for.
	embeddedDateRegexes = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)\.?\s+\d{1,2},?\s+\d{4}\b`),
		regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)\.?,?\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{4}/\d{1,2}/\d{1,2}\b`),
	}
)

// parseFlexibleDate parses the date forms seen on monitored pages: absolute
// dates in any common layout, month-only forms defaulting to the first of
// the month, and English relative forms ("2 days ago", "yesterday").
func parseFlexibleDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	lower := strings.ToLower(raw)

	if t, ok := parseRelativeDate(lower, now); ok {
		return t.UTC(), true
	}

	if t, ok := parseMonthOnly(lower); ok {
		return clampDate(t, now)
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}

	return clampDate(t.UTC(), now)
}

// findEmbeddedDate scans free text for a recognizable date substring.
func findEmbeddedDate(text string, now time.Time) (time.Time, bool) {
	runes := []rune(text)
	if len(runes) > dateScanLimit {
		text = string(runes[:dateScanLimit])
	}

	for _, re := range embeddedDateRegexes {
		m := re.FindString(text)
		if m == "" {
			continue
		}

		if t, ok := parseFlexibleDate(m, now); ok {
			return t, true
		}
	}

	return time.Time{}, false
}

func clampDate(t, now time.Time) (time.Time, bool) {
	if t.Before(now.Add(-maxDateAge)) || t.After(now.Add(maxDateAhead)) {
		return time.Time{}, false
	}

	return t, true
}

func parseRelativeDate(lower string, now time.Time) (time.Time, bool) {
	if m := relativeAgoRegex.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}

		switch m[2] {
		case "second":
			return now.Add(-time.Duration(n) * time.Second), true
		case "minute":
			return now.Add(-time.Duration(n) * time.Minute), true
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour), true
		case "day":
			return now.AddDate(0, 0, -n), true
		case "week":
			return now.AddDate(0, 0, -7*n), true
		case "month":
			return now.AddDate(0, 0, -30*n), true
		case "year":
			return now.AddDate(0, 0, -365*n), true
		}
	}

	switch {
	case strings.Contains(lower, "yesterday"):
		return now.AddDate(0, 0, -1), true
	case strings.Contains(lower, "today"), strings.Contains(lower, "just now"):
		return now, true
	case strings.Contains(lower, "last week"):
		return now.AddDate(0, 0, -7), true
	case strings.Contains(lower, "last month"):
		return now.AddDate(0, 0, -30), true
	}

	return time.Time{}, false
}

func parseMonthOnly(lower string) (time.Time, bool) {
	if m := monthYearRegex.FindStringSubmatch(lower); m != nil {
		month, ok := monthNames[m[1]]
		if !ok {
			return time.Time{}, false
		}

		year, err := strconv.Atoi(m[2])
		if err != nil {
			return time.Time{}, false
		}

		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
	}

	if m := yearMonthRegex.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])

		month, err := strconv.Atoi(m[2])
		if err != nil || month < 1 || month > 12 {
			return time.Time{}, false
		}

		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
	}

	return time.Time{}, false
}
