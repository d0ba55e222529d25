package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
)

// DataMigration is one idempotent data fix. Check decides whether the
// migration still needs to run; Execute performs it inside its own
// transaction. There is no version table: Check must be cheap and safe to
// evaluate on every startup.
type DataMigration struct {
	ID      string
	Check   func(ctx context.Context, db *DB) (bool, error)
	Execute func(ctx context.Context, tx pgx.Tx) error
}

// DataMigrationResult reports the outcome of one startup pass.
type DataMigrationResult struct {
	Run       []string          `json:"run"`
	Skipped   []string          `json:"skipped"`
	Errors    map[string]string `json:"errors"`
	TotalTime time.Duration     `json:"total_time"`
}

// RunDataMigrations runs all registered data migrations in order. A failing
// migration is logged and recorded but never blocks the ones after it.
// Runs directly on the pool: data migrations execute at startup, before the
// queue starts.
func (db *DB) RunDataMigrations(ctx context.Context) (*DataMigrationResult, error) {
	started := time.Now()
	result := &DataMigrationResult{
		Run:     []string{},
		Skipped: []string{},
		Errors:  map[string]string{},
	}

	for _, m := range dataMigrations() {
		needed, err := m.Check(ctx, db)
		if err != nil {
			db.Logger.Error().Err(err).Str("migration", m.ID).Msg("data migration check failed")
			result.Errors[m.ID] = err.Error()

			continue
		}

		if !needed {
			result.Skipped = append(result.Skipped, m.ID)
			continue
		}

		if err := db.runDataMigration(ctx, m); err != nil {
			db.Logger.Error().Err(err).Str("migration", m.ID).Msg("data migration failed")
			result.Errors[m.ID] = err.Error()

			continue
		}

		db.Logger.Info().Str("migration", m.ID).Msg("data migration applied")
		result.Run = append(result.Run, m.ID)
	}

	result.TotalTime = time.Since(started)

	return result, nil
}

func (db *DB) runDataMigration(ctx context.Context, m DataMigration) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := m.Execute(ctx, tx); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // rollback error is secondary to the execute error
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// legacySourceTypes maps retired source_type spellings to current ones.
var legacySourceTypes = map[string]string{
	"web":              string(domain.SourceTypeGenericPage),
	"page":             string(domain.SourceTypeGenericPage),
	"html":             string(domain.SourceTypeGenericPage),
	"telegram_channel": string(domain.SourceTypeTelegram),
	"tg":               string(domain.SourceTypeTelegram),
}

func dataMigrations() []DataMigration {
	return []DataMigration{
		{
			ID:      "backfill_hash_content",
			Check:   checkMissingContentHashes,
			Execute: backfillContentHashes,
		},
		{
			ID:      "seed_categories",
			Check:   checkCategoriesSeeded,
			Execute: seedCategories,
		},
		{
			ID:      "seed_schedule_settings",
			Check:   checkScheduleSeeded,
			Execute: seedScheduleSettings,
		},
		{
			ID:      "normalize_source_types",
			Check:   checkLegacySourceTypes,
			Execute: normalizeSourceTypes,
		},
	}
}

func checkMissingContentHashes(ctx context.Context, db *DB) (bool, error) {
	var exists bool

	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM articles WHERE hash_content IS NULL)
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check missing content hashes: %w", err)
	}

	return exists, nil
}

// backfillContentHashes computes hash_content in SQL with the same formula
// as domain.ContentHash: hex SHA-256 of "title:url".
func backfillContentHashes(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		UPDATE articles
		SET hash_content = encode(sha256(convert_to(COALESCE(title, '') || ':' || url, 'UTF8')), 'hex')
		WHERE hash_content IS NULL
	`)
	if err != nil {
		return fmt.Errorf("backfill content hashes: %w", err)
	}

	return nil
}

func checkCategoriesSeeded(ctx context.Context, db *DB) (bool, error) {
	var count int64

	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*)::bigint FROM categories`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check categories seeded: %w", err)
	}

	return count < int64(len(domain.FixedCategories())), nil
}

func seedCategories(ctx context.Context, tx pgx.Tx) error {
	for _, c := range domain.FixedCategories() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO categories (name, display_name, color)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
		`, c.Name, c.DisplayName, c.Color); err != nil {
			return fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}

	return nil
}

// seededTasks returns the default scheduled task rows.
func seededTasks() []domain.ScheduleSetting {
	allWeek := []int{1, 2, 3, 4, 5, 6, 7}

	return []domain.ScheduleSetting{
		{
			TaskName:     domain.TaskNewsProcessing,
			Enabled:      true,
			ScheduleType: domain.ScheduleTypeHourly,
			Minute:       0,
			Weekdays:     allWeek,
			Timezone:     "Europe/Belgrade",
		},
		{
			TaskName:     domain.TaskTelegramDigest,
			Enabled:      true,
			ScheduleType: domain.ScheduleTypeDaily,
			Hour:         20,
			Minute:       0,
			Weekdays:     allWeek,
			Timezone:     "Europe/Belgrade",
		},
		{
			TaskName:     domain.TaskDailySummaries,
			Enabled:      true,
			ScheduleType: domain.ScheduleTypeDaily,
			Hour:         19,
			Minute:       30,
			Weekdays:     allWeek,
			Timezone:     "Europe/Belgrade",
		},
		{
			TaskName:     domain.TaskBackup,
			Enabled:      false,
			ScheduleType: domain.ScheduleTypeDaily,
			Hour:         3,
			Minute:       0,
			Weekdays:     allWeek,
			Timezone:     "Europe/Belgrade",
		},
	}
}

func checkScheduleSeeded(ctx context.Context, db *DB) (bool, error) {
	var count int64

	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*)::bigint FROM schedule_settings`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check schedule seeded: %w", err)
	}

	return count < int64(len(seededTasks())), nil
}

func seedScheduleSettings(ctx context.Context, tx pgx.Tx) error {
	for _, s := range seededTasks() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO schedule_settings (task_name, enabled, schedule_type, hour, minute, weekdays, timezone)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (task_name) DO NOTHING
		`, s.TaskName, s.Enabled, s.ScheduleType, safeIntToInt32(s.Hour), safeIntToInt32(s.Minute),
			weekdaysToInt32(s.Weekdays), s.Timezone); err != nil {
			return fmt.Errorf("seed schedule %s: %w", s.TaskName, err)
		}
	}

	return nil
}

func checkLegacySourceTypes(ctx context.Context, db *DB) (bool, error) {
	legacy := make([]string, 0, len(legacySourceTypes))
	for k := range legacySourceTypes {
		legacy = append(legacy, k)
	}

	var exists bool

	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM sources WHERE source_type = ANY($1))
	`, legacy).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check legacy source types: %w", err)
	}

	return exists, nil
}

func normalizeSourceTypes(ctx context.Context, tx pgx.Tx) error {
	for legacy, current := range legacySourceTypes {
		if _, err := tx.Exec(ctx, `
			UPDATE sources
			SET source_type = $2,
				updated_at = now()
			WHERE source_type = $1
		`, legacy, current); err != nil {
			return fmt.Errorf("normalize source type %s: %w", legacy, err)
		}
	}

	return nil
}
