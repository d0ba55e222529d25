package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetAppSetting loads an operator setting into v. It returns false when the
// key does not exist.
func (db *DB) GetAppSetting(ctx context.Context, key string, v any) (bool, error) {
	var raw []byte

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&raw)
	}, `
		SELECT value
		FROM app_settings
		WHERE key = $1
	`, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("get app setting: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal app setting %q: %w", key, err)
	}

	return true, nil
}

// SetAppSetting stores an operator setting.
func (db *DB) SetAppSetting(ctx context.Context, key string, v any) error {
	raw, err := toJSONB(v, "null")
	if err != nil {
		return fmt.Errorf("set app setting: %w", err)
	}

	_, err = db.Queue.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = now()
	`, key, raw)
	if err != nil {
		return fmt.Errorf("set app setting: %w", err)
	}

	return nil
}
