package filecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()

	logger := zerolog.Nop()

	c, err := New(t.TempDir(), &logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return c
}

func TestSetGet_RoundTrip(t *testing.T) {
	c := newTestCache(t)

	want := testValue{Name: "analysis", Count: 7}
	if err := c.Set("key1", want, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testValue

	hit, err := c.Get("key1", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !hit {
		t.Fatal("Get() hit = false, want true")
	}

	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestGet_Miss(t *testing.T) {
	c := newTestCache(t)

	var got testValue

	hit, err := c.Get("absent", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if hit {
		t.Error("Get() hit = true for absent key, want false")
	}
}

func TestGet_Expired(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set("short", testValue{Name: "x"}, -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testValue

	hit, err := c.Get("short", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if hit {
		t.Error("Get() hit = true for expired entry, want false")
	}

	// The expired file must be gone.
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		t.Fatalf("glob error = %v", err)
	}

	if len(entries) != 0 {
		t.Errorf("expired entry left %d files on disk, want 0", len(entries))
	}
}

func TestGet_CorruptEntryIsDropped(t *testing.T) {
	c := newTestCache(t)

	path := c.path("bad")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	var got testValue

	hit, err := c.Get("bad", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if hit {
		t.Error("Get() hit = true for corrupt entry, want false")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry should be removed")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set("gone", testValue{}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := c.Delete("gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got testValue
	if hit, _ := c.Get("gone", &got); hit {
		t.Error("Get() hit = true after Delete")
	}

	// Deleting again is not an error.
	if err := c.Delete("gone"); err != nil {
		t.Errorf("Delete() on absent key error = %v", err)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(key, testValue{Name: key}, time.Hour); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.Files != 0 {
		t.Errorf("Stats().Files = %d after Clear, want 0", stats.Files)
	}
}

func TestCleanupExpired(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set("fresh", testValue{}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := c.Set("stale", testValue{}, -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	removed, err := c.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}

	if removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}

	var got testValue
	if hit, _ := c.Get("fresh", &got); !hit {
		t.Error("fresh entry should survive cleanup")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t)

	if err := c.Set("one", testValue{Name: "one"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := c.Set("two", testValue{Name: "two"}, -time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.Files != 2 {
		t.Errorf("Stats().Files = %d, want 2", stats.Files)
	}

	if stats.Expired != 1 {
		t.Errorf("Stats().Expired = %d, want 1", stats.Expired)
	}

	if stats.SizeBytes == 0 {
		t.Error("Stats().SizeBytes = 0, want > 0")
	}
}
