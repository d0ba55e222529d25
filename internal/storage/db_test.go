package db

import (
	"math"
	"testing"
	"time"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "valid ascii",
			input:    "hello",
			expected: "hello",
		},
		{
			name:     "valid cyrillic",
			input:    "Новости дня",
			expected: "Новости дня",
		},
		{
			name:     "invalid sequence removed",
			input:    "ok\xff\xfeok",
			expected: "okok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeUTF8(tt.input); got != tt.expected {
				t.Errorf("SanitizeUTF8() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSafeIntToInt32(t *testing.T) {
	tests := []struct {
		name  string
		input int
		want  int32
	}{
		{name: "zero", input: 0, want: 0},
		{name: "in range", input: 42, want: 42},
		{name: "clamped high", input: math.MaxInt32 + 1, want: math.MaxInt32},
		{name: "clamped low", input: math.MinInt32 - 1, want: math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := safeIntToInt32(tt.input); got != tt.want {
				t.Errorf("safeIntToInt32(%d) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestToJSONB(t *testing.T) {
	got, err := toJSONB(nil, "{}")
	if err != nil {
		t.Fatalf("toJSONB(nil) error = %v", err)
	}

	if string(got) != "{}" {
		t.Errorf("toJSONB(nil) = %s, want {}", got)
	}

	got, err = toJSONB(map[string]any{"a": 1}, "{}")
	if err != nil {
		t.Fatalf("toJSONB(map) error = %v", err)
	}

	if string(got) != `{"a":1}` {
		t.Errorf("toJSONB(map) = %s, want {\"a\":1}", got)
	}

	var nilSlice []string

	got, err = toJSONB(nilSlice, "[]")
	if err != nil {
		t.Fatalf("toJSONB(nil slice) error = %v", err)
	}

	if string(got) != "[]" {
		t.Errorf("toJSONB(nil slice) = %s, want []", got)
	}
}

func TestRawJSONB(t *testing.T) {
	if got := rawJSONB(nil, "{}"); string(got) != "{}" {
		t.Errorf("rawJSONB(nil) = %s, want {}", got)
	}

	if got := rawJSONB([]byte(`{"x":2}`), "{}"); string(got) != `{"x":2}` {
		t.Errorf("rawJSONB() = %s, want {\"x\":2}", got)
	}
}

func TestToDateOnly(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	in := time.Date(2025, 6, 15, 1, 30, 0, 0, loc) // 2025-06-14 23:30 UTC

	got := toDateOnly(in)
	want := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)

	if !got.Equal(want) {
		t.Errorf("toDateOnly() = %v, want %v", got, want)
	}
}

func TestNullableID(t *testing.T) {
	if got := nullableID(0); got.Valid {
		t.Error("nullableID(0) should be NULL")
	}

	got := nullableID(7)
	if !got.Valid || got.Int64 != 7 {
		t.Errorf("nullableID(7) = %+v, want valid 7", got)
	}
}

func TestTextPtr(t *testing.T) {
	if got := textPtr(nil); got.Valid {
		t.Error("textPtr(nil) should be NULL")
	}

	s := "summary"

	got := textPtr(&s)
	if !got.Valid || got.String != "summary" {
		t.Errorf("textPtr() = %+v, want valid %q", got, s)
	}
}

func TestDataMigrationIDsUnique(t *testing.T) {
	seen := map[string]bool{}

	for _, m := range dataMigrations() {
		if m.ID == "" {
			t.Fatal("data migration with empty ID")
		}

		if seen[m.ID] {
			t.Fatalf("duplicate data migration ID %q", m.ID)
		}

		if m.Check == nil || m.Execute == nil {
			t.Fatalf("data migration %q missing check or execute", m.ID)
		}

		seen[m.ID] = true
	}
}

func TestSeededTasks(t *testing.T) {
	tasks := seededTasks()
	if len(tasks) != 4 {
		t.Fatalf("seededTasks() length = %d, want 4", len(tasks))
	}

	byName := map[string]domain.ScheduleSetting{}
	for _, s := range tasks {
		byName[s.TaskName] = s
	}

	digest, ok := byName[domain.TaskTelegramDigest]
	if !ok {
		t.Fatal("telegram_digest task not seeded")
	}

	if digest.ScheduleType != domain.ScheduleTypeDaily || digest.Hour != 20 || digest.Minute != 0 {
		t.Errorf("telegram_digest schedule = %s %02d:%02d, want daily 20:00",
			digest.ScheduleType, digest.Hour, digest.Minute)
	}

	processing, ok := byName[domain.TaskNewsProcessing]
	if !ok {
		t.Fatal("news_processing task not seeded")
	}

	if processing.ScheduleType != domain.ScheduleTypeHourly {
		t.Errorf("news_processing schedule type = %s, want hourly", processing.ScheduleType)
	}

	backup, ok := byName[domain.TaskBackup]
	if !ok {
		t.Fatal("backup task not seeded")
	}

	if backup.Enabled {
		t.Error("backup task should be seeded disabled")
	}

	for _, s := range tasks {
		if s.Timezone != "Europe/Belgrade" {
			t.Errorf("task %s timezone = %s, want Europe/Belgrade", s.TaskName, s.Timezone)
		}

		if len(s.Weekdays) != 7 {
			t.Errorf("task %s weekdays = %v, want all week", s.TaskName, s.Weekdays)
		}
	}
}

func TestLegacySourceTypesMapToValid(t *testing.T) {
	for legacy, current := range legacySourceTypes {
		if !domain.SourceType(current).Valid() {
			t.Errorf("legacy type %q maps to invalid type %q", legacy, current)
		}
	}
}
