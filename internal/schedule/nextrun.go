package schedule

import (
	"errors"
	"fmt"
	"time"
	// Embed tzdata for environments without zoneinfo.
	_ "time/tzdata"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// ErrUnknownScheduleType is returned for schedule types the dispatcher
// cannot compute a next run for.
var ErrUnknownScheduleType = errors.New("unknown schedule type")

// Interval tasks are clamped to [1 minute, 1 day].
const (
	minIntervalMinutes = 1
	maxIntervalMinutes = 1440
)

// NextRun computes the task's next run strictly after the given moment,
// in UTC. Daily and hourly tasks honor the task's timezone and ISO weekday
// filter (1 = Monday .. 7 = Sunday, empty = every day).
func NextRun(s *domain.ScheduleSetting, after time.Time) (time.Time, error) {
	loc := taskLocation(s.Timezone)
	local := after.In(loc)

	switch s.ScheduleType {
	case domain.ScheduleTypeDaily:
		return nextDaily(s, local).UTC(), nil

	case domain.ScheduleTypeHourly:
		return nextHourly(s, local).UTC(), nil

	case domain.ScheduleTypeInterval:
		return after.Add(intervalDuration(s.TaskConfig)).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownScheduleType, s.ScheduleType)
	}
}

func nextDaily(s *domain.ScheduleSetting, local time.Time) time.Time {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, local.Location())

	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	for !weekdayAllowed(s.Weekdays, candidate) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate
}

func nextHourly(s *domain.ScheduleSetting, local time.Time) time.Time {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), s.Minute, 0, 0, local.Location())

	if !candidate.After(local) {
		candidate = candidate.Add(time.Hour)
	}

	// A disallowed weekday skips forward to the first allowed day's first
	// slot.
	for !weekdayAllowed(s.Weekdays, candidate) {
		next := candidate.AddDate(0, 0, 1)
		candidate = time.Date(next.Year(), next.Month(), next.Day(), 0, s.Minute, 0, 0, local.Location())
	}

	return candidate
}

func intervalDuration(taskConfig map[string]any) time.Duration {
	minutes := intervalMinutes(taskConfig)

	if minutes < minIntervalMinutes {
		minutes = minIntervalMinutes
	}

	if minutes > maxIntervalMinutes {
		minutes = maxIntervalMinutes
	}

	return time.Duration(minutes) * time.Minute
}

// intervalMinutes reads interval_minutes from the task config, which comes
// back from JSONB as float64.
func intervalMinutes(taskConfig map[string]any) int {
	switch v := taskConfig["interval_minutes"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func weekdayAllowed(weekdays []int, t time.Time) bool {
	if len(weekdays) == 0 {
		return true
	}

	iso := int(t.Weekday())
	if iso == 0 {
		iso = 7
	}

	for _, d := range weekdays {
		if d == iso {
			return true
		}
	}

	return false
}

func taskLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}

	return loc
}
