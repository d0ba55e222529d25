package sources

import (
	"testing"
	"time"
)

func TestParseFlexibleDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
		ok   bool
	}{
		{"iso date", "2025-06-01", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"iso datetime", "2025-06-01T10:30:00Z", time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC), true},
		{"us long form", "June 1, 2025", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"relative days", "2 days ago", now.AddDate(0, 0, -2), true},
		{"relative hours", "3 hours ago", now.Add(-3 * time.Hour), true},
		{"relative week", "1 week ago", now.AddDate(0, 0, -7), true},
		{"yesterday", "Yesterday", now.AddDate(0, 0, -1), true},
		{"today", "today", now, true},
		{"last week", "last week", now.AddDate(0, 0, -7), true},
		{"month name only", "July 2024", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"year dash month", "2024-07", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"too old", "1999-01-01", time.Time{}, false},
		{"too far ahead", "2027-01-01", time.Time{}, false},
		{"garbage", "not a date", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFlexibleDate(tt.raw, now)
			if ok != tt.ok {
				t.Fatalf("parseFlexibleDate(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}

			if ok && !got.Equal(tt.want) {
				t.Errorf("parseFlexibleDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFindEmbeddedDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	got, ok := findEmbeddedDate("Release 2.1 shipped on 2025-06-01 with bug fixes", now)
	if !ok {
		t.Fatal("expected a date in the text")
	}

	if want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}

	got, ok = findEmbeddedDate("Posted on June 1, 2025 by the team", now)
	if !ok {
		t.Fatal("expected a month-name date in the text")
	}

	if want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}

	if _, ok := findEmbeddedDate("no dates in this text at all", now); ok {
		t.Error("expected no date")
	}
}
