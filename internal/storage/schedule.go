package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

const scheduleColumns = `id, task_name, enabled, schedule_type, hour, minute, weekdays,
	       timezone, task_config, last_run, next_run, is_running`

// ListScheduleSettings returns all scheduled task rows.
func (db *DB) ListScheduleSettings(ctx context.Context) ([]domain.ScheduleSetting, error) {
	settings := []domain.ScheduleSetting{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			s, err := scanScheduleSetting(rows)
			if err != nil {
				return fmt.Errorf("scan schedule setting: %w", err)
			}

			settings = append(settings, *s)
		}

		return rows.Err()
	}, `
		SELECT `+scheduleColumns+`
		FROM schedule_settings
		ORDER BY task_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list schedule settings: %w", err)
	}

	return settings, nil
}

// GetScheduleSetting returns one task row by name, or nil when unknown.
func (db *DB) GetScheduleSetting(ctx context.Context, taskName string) (*domain.ScheduleSetting, error) {
	var setting *domain.ScheduleSetting

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		s, err := scanScheduleSetting(row)
		if err != nil {
			return err
		}

		setting = s

		return nil
	}, `
		SELECT `+scheduleColumns+`
		FROM schedule_settings
		WHERE task_name = $1
	`, taskName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates the task is not configured
		}

		return nil, fmt.Errorf("get schedule setting: %w", err)
	}

	return setting, nil
}

// UpdateScheduleSetting updates the operator-editable fields of a task and
// its recomputed next run.
func (db *DB) UpdateScheduleSetting(ctx context.Context, s *domain.ScheduleSetting) error {
	cfg, err := toJSONB(s.TaskConfig, "{}")
	if err != nil {
		return fmt.Errorf("update schedule setting: %w", err)
	}

	_, err = db.Queue.Exec(ctx, `
		UPDATE schedule_settings
		SET enabled = $2,
			schedule_type = $3,
			hour = $4,
			minute = $5,
			weekdays = $6,
			timezone = $7,
			task_config = $8,
			next_run = $9,
			updated_at = now()
		WHERE task_name = $1
	`, s.TaskName, s.Enabled, s.ScheduleType, safeIntToInt32(s.Hour), safeIntToInt32(s.Minute),
		weekdaysToInt32(s.Weekdays), s.Timezone, cfg, toTimestamptzPtr(s.NextRun))
	if err != nil {
		return fmt.Errorf("update schedule setting: %w", err)
	}

	return nil
}

// SetNextRun stores a freshly computed next run time.
func (db *DB) SetNextRun(ctx context.Context, id int64, nextRun time.Time) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE schedule_settings
		SET next_run = $2,
			updated_at = now()
		WHERE id = $1
	`, id, nextRun)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}

	return nil
}

// DueScheduledTasks returns enabled tasks that are ready to run at now,
// including tasks whose next run was never computed.
func (db *DB) DueScheduledTasks(ctx context.Context, now time.Time) ([]domain.ScheduleSetting, error) {
	settings := []domain.ScheduleSetting{}

	err := db.Queue.FetchAll(ctx, func(rows pgx.Rows) error {
		for rows.Next() {
			s, err := scanScheduleSetting(rows)
			if err != nil {
				return fmt.Errorf("scan schedule setting: %w", err)
			}

			settings = append(settings, *s)
		}

		return rows.Err()
	}, `
		SELECT `+scheduleColumns+`
		FROM schedule_settings
		WHERE enabled
		  AND NOT is_running
		  AND (next_run IS NULL OR next_run <= $1)
		ORDER BY next_run NULLS FIRST
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due scheduled tasks: %w", err)
	}

	return settings, nil
}

// ClaimScheduledTask marks a task as running. It returns false when another
// instance already claimed it.
func (db *DB) ClaimScheduledTask(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	tag, err := db.Queue.Exec(ctx, `
		UPDATE schedule_settings
		SET is_running = TRUE,
			last_run = $2,
			updated_at = now()
		WHERE id = $1
		  AND NOT is_running
	`, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("claim scheduled task: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// FinishScheduledTask clears the running flag and stores the next run time.
func (db *DB) FinishScheduledTask(ctx context.Context, id int64, nextRun time.Time) error {
	_, err := db.Queue.Exec(ctx, `
		UPDATE schedule_settings
		SET is_running = FALSE,
			next_run = $2,
			updated_at = now()
		WHERE id = $1
	`, id, nextRun)
	if err != nil {
		return fmt.Errorf("finish scheduled task: %w", err)
	}

	return nil
}

// ResetRunningTasks clears stale running flags left behind by a crashed
// instance. Called once at scheduler startup.
func (db *DB) ResetRunningTasks(ctx context.Context) (int64, error) {
	tag, err := db.Queue.Exec(ctx, `
		UPDATE schedule_settings
		SET is_running = FALSE,
			updated_at = now()
		WHERE is_running
	`)
	if err != nil {
		return 0, fmt.Errorf("reset running tasks: %w", err)
	}

	return tag.RowsAffected(), nil
}

type scheduleRowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleSetting(row scheduleRowScanner) (*domain.ScheduleSetting, error) {
	var (
		s        domain.ScheduleSetting
		weekdays []int32
		cfgJSON  []byte
		lastRun  pgtype.Timestamptz
		nextRun  pgtype.Timestamptz
	)

	if err := row.Scan(
		&s.ID, &s.TaskName, &s.Enabled, &s.ScheduleType, &s.Hour, &s.Minute, &weekdays,
		&s.Timezone, &cfgJSON, &lastRun, &nextRun, &s.IsRunning,
	); err != nil {
		return nil, err
	}

	s.Weekdays = make([]int, 0, len(weekdays))
	for _, d := range weekdays {
		s.Weekdays = append(s.Weekdays, int(d))
	}

	s.LastRun = fromTimestamptzPtr(lastRun)
	s.NextRun = fromTimestamptzPtr(nextRun)

	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &s.TaskConfig); err != nil {
			return nil, fmt.Errorf("unmarshal task config: %w", err)
		}
	}

	return &s, nil
}

func weekdaysToInt32(days []int) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, safeIntToInt32(d))
	}

	return out
}
