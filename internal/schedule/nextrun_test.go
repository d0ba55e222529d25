package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// 2025-07-29 is a Tuesday.
var tuesdayNoonUTC = time.Date(2025, 7, 29, 12, 0, 0, 0, time.UTC)

func TestNextRunDaily(t *testing.T) {
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         20,
		Minute:       0,
		Timezone:     "UTC",
	}

	next, err := NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 29, 20, 0, 0, 0, time.UTC), next)

	// Past today's slot: tomorrow.
	next, err = NextRun(s, tuesdayNoonUTC.Add(9*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 30, 20, 0, 0, 0, time.UTC), next)
}

func TestNextRunDailyExactSlotMovesToNextDay(t *testing.T) {
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         12,
		Minute:       0,
		Timezone:     "UTC",
	}

	next, err := NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 30, 12, 0, 0, 0, time.UTC), next)
}

func TestNextRunDailyWeekdayFilter(t *testing.T) {
	// Only Friday (ISO 5) and Sunday (ISO 7) are allowed.
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         9,
		Minute:       30,
		Timezone:     "UTC",
		Weekdays:     []int{5, 7},
	}

	next, err := NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 1, 9, 30, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNextRunDailyTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Belgrade")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         20,
		Minute:       0,
		Timezone:     "Europe/Belgrade",
	}

	// 20:00 Belgrade in summer is 18:00 UTC.
	next, err := NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 29, 18, 0, 0, 0, time.UTC), next)
	assert.Equal(t, 20, next.In(loc).Hour())
	assert.Equal(t, time.UTC, next.Location())
}

func TestNextRunHourly(t *testing.T) {
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeHourly,
		Minute:       0,
		Timezone:     "UTC",
	}

	next, err := NextRun(s, tuesdayNoonUTC.Add(25*time.Minute))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 29, 13, 0, 0, 0, time.UTC), next)

	// On the slot itself the next run is an hour later.
	next, err = NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 29, 13, 0, 0, 0, time.UTC), next)
}

func TestNextRunHourlySkipsDisallowedDays(t *testing.T) {
	// Weekdays only; Friday 23:40 rolls over to Monday 00:15.
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeHourly,
		Minute:       15,
		Timezone:     "UTC",
		Weekdays:     []int{1, 2, 3, 4, 5},
	}

	fridayNight := time.Date(2025, 8, 1, 23, 40, 0, 0, time.UTC)

	next, err := NextRun(s, fridayNight)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 4, 0, 15, 0, 0, time.UTC), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestNextRunInterval(t *testing.T) {
	tests := []struct {
		name    string
		minutes any
		want    time.Duration
	}{
		{"normal", float64(30), 30 * time.Minute},
		{"clamped low", float64(0), time.Minute},
		{"clamped high", float64(10000), 24 * time.Hour},
		{"missing config", nil, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &domain.ScheduleSetting{
				ScheduleType: domain.ScheduleTypeInterval,
				TaskConfig:   map[string]any{},
			}

			if tt.minutes != nil {
				s.TaskConfig["interval_minutes"] = tt.minutes
			}

			next, err := NextRun(s, tuesdayNoonUTC)

			require.NoError(t, err)
			assert.Equal(t, tuesdayNoonUTC.Add(tt.want), next)
		})
	}
}

func TestNextRunUnknownType(t *testing.T) {
	s := &domain.ScheduleSetting{ScheduleType: "cron"}

	_, err := NextRun(s, tuesdayNoonUTC)

	assert.ErrorIs(t, err, ErrUnknownScheduleType)
}

func TestNextRunBadTimezoneFallsBackToUTC(t *testing.T) {
	s := &domain.ScheduleSetting{
		ScheduleType: domain.ScheduleTypeDaily,
		Hour:         20,
		Timezone:     "Not/AZone",
	}

	next, err := NextRun(s, tuesdayNoonUTC)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 29, 20, 0, 0, 0, time.UTC), next)
}
