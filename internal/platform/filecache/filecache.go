// Package filecache is a small disk-backed TTL cache for expensive results,
// keyed by arbitrary strings and stored as one JSON file per entry.
package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Cache stores JSON-encoded values under dir, one file per key.
// Writes go through a temp file and rename so readers never see a torn file.
type Cache struct {
	dir    string
	mu     sync.Mutex
	logger *zerolog.Logger
}

type entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Stats summarizes the cache directory contents.
type Stats struct {
	Files     int   `json:"files"`
	Expired   int   `json:"expired"`
	SizeBytes int64 `json:"size_bytes"`
}

// New creates the cache directory if needed.
func New(dir string, logger *zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &Cache{dir: dir, logger: logger}, nil
}

// Get loads the value for key into v. It reports a miss for absent, expired,
// or corrupt entries; expired and corrupt files are removed on the way out.
func (c *Cache) Get(key string, v any) (bool, error) {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("read cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug().Str("key", key).Err(err).Msg("dropping corrupt cache entry")
		c.remove(path)

		return false, nil
	}

	if time.Now().After(e.ExpiresAt) {
		c.remove(path)

		return false, nil
	}

	if err := json.Unmarshal(e.Value, v); err != nil {
		c.logger.Debug().Str("key", key).Err(err).Msg("dropping unreadable cache value")
		c.remove(path)

		return false, nil
	}

	return true, nil
}

// Set stores v under key with the given TTL.
func (c *Cache) Set(key string, v any, ttl time.Duration) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	now := time.Now()

	data, err := json.Marshal(entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.path(key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("write cache temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		c.remove(tmp)

		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}

// Delete removes the entry for key if present.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry: %w", err)
	}

	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths, err := c.entryPaths()
	if err != nil {
		return err
	}

	for _, path := range paths {
		c.remove(path)
	}

	return nil
}

// CleanupExpired removes expired and corrupt entries and reports how many.
func (c *Cache) CleanupExpired() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths, err := c.entryPaths()
	if err != nil {
		return 0, err
	}

	removed := 0
	now := time.Now()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var e entry
		if err := json.Unmarshal(data, &e); err != nil || now.After(e.ExpiresAt) {
			c.remove(path)

			removed++
		}
	}

	return removed, nil
}

// Stats walks the cache directory and summarizes it.
func (c *Cache) Stats() (Stats, error) {
	paths, err := c.entryPaths()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{}
	now := time.Now()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		stats.Files++
		stats.SizeBytes += info.Size()

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var e entry
		if err := json.Unmarshal(data, &e); err != nil || now.After(e.ExpiresAt) {
			stats.Expired++
		}
	}

	return stats, nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))

	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

func (c *Cache) entryPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	return paths, nil
}

func (c *Cache) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug().Str("path", path).Err(err).Msg("failed to remove cache file")
	}
}
