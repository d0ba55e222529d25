package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PageSnapshot is the stored change-detection state of one monitored page.
type PageSnapshot struct {
	SourceID      int64
	ContentHash   string
	ArticleHashes []string
	TakenAt       time.Time
}

// GetPageSnapshot returns the last snapshot for a monitored source, or nil
// when the page was never fetched.
func (db *DB) GetPageSnapshot(ctx context.Context, sourceID int64) (*PageSnapshot, error) {
	var (
		snap       PageSnapshot
		hashesJSON []byte
	)

	err := db.Queue.FetchOne(ctx, func(row pgx.Row) error {
		return row.Scan(&snap.SourceID, &snap.ContentHash, &hashesJSON, &snap.TakenAt)
	}, `
		SELECT source_id, content_hash, article_hashes, taken_at
		FROM page_snapshots
		WHERE source_id = $1
	`, sourceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // nil,nil indicates no snapshot yet
		}

		return nil, fmt.Errorf("get page snapshot: %w", err)
	}

	if len(hashesJSON) > 0 {
		if err := json.Unmarshal(hashesJSON, &snap.ArticleHashes); err != nil {
			return nil, fmt.Errorf("unmarshal article hashes: %w", err)
		}
	}

	return &snap, nil
}

// UpsertPageSnapshot stores the newest snapshot for a monitored source.
func (db *DB) UpsertPageSnapshot(ctx context.Context, snap *PageSnapshot) error {
	hashes, err := toJSONB(snap.ArticleHashes, "[]")
	if err != nil {
		return fmt.Errorf("upsert page snapshot: %w", err)
	}

	_, err = db.Queue.Exec(ctx, `
		INSERT INTO page_snapshots (source_id, content_hash, article_hashes, taken_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_id) DO UPDATE
		SET content_hash = EXCLUDED.content_hash,
			article_hashes = EXCLUDED.article_hashes,
			taken_at = now()
	`, snap.SourceID, snap.ContentHash, hashes)
	if err != nil {
		return fmt.Errorf("upsert page snapshot: %w", err)
	}

	return nil
}
