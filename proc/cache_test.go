package proc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T) *CacheStore {
	t.Helper()
	c := NewCacheStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return testNow }
	return c
}

func writeCacheFile(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	mtime := testNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestEvictExpiredByAge(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	a := writeCacheFile(t, c.Root(), "A.webm", 10<<10, 4000*time.Second)
	b := writeCacheFile(t, c.Root(), "B.webm", 10<<10, 100*time.Second)

	report, err := c.EvictExpired(context.Background(), time.Hour, 1<<30)
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if exists(a) {
		t.Error("A is older than max age and should be gone")
	}
	if !exists(b) {
		t.Error("B is fresh and should remain")
	}
	if report.Removed != 1 || report.Freed != 10<<10 {
		t.Fatalf("report = %+v, want 1 removed", report)
	}
}

func TestEvictExpiredBySizeOldestFirst(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	const unit = 100 << 10
	// 6 units total against a 5 unit budget.
	paths := []string{
		writeCacheFile(t, c.Root(), "old.m4a", unit, 50*time.Minute),
		writeCacheFile(t, c.Root(), "mid1.m4a", unit, 40*time.Minute),
		writeCacheFile(t, c.Root(), "mid2.m4a", unit, 30*time.Minute),
		writeCacheFile(t, c.Root(), "mid3.m4a", unit, 20*time.Minute),
		writeCacheFile(t, c.Root(), "mid4.m4a", unit, 10*time.Minute),
		writeCacheFile(t, c.Root(), "new.m4a", unit, time.Minute),
	}

	report, err := c.EvictExpired(context.Background(), time.Hour, 5*unit)
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if exists(paths[0]) {
		t.Error("oldest file should be evicted to meet the size budget")
	}
	for _, p := range paths[1:] {
		if !exists(p) {
			t.Errorf("%s should remain once under budget", filepath.Base(p))
		}
	}
	if report.Removed != 1 || report.Remaining != 5*unit {
		t.Fatalf("report = %+v, want 1 removed and %d remaining", report, 5*unit)
	}
}

func TestEvictExpiredSkipsSidecars(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	old := 10 * time.Hour
	sidecars := []string{
		writeCacheFile(t, c.Root(), "abc.webm.part", 1024, old),
		writeCacheFile(t, c.Root(), "abc.info.json", 1024, old),
		writeCacheFile(t, c.Root(), "abc.webm.part-Frag3", 1024, old),
		writeCacheFile(t, c.Root(), ".hidden", 1024, old),
	}
	if err := os.Mkdir(filepath.Join(c.Root(), ".ytdl"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, err := c.EvictExpired(context.Background(), time.Hour, 1<<30); err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	for _, p := range sidecars {
		if !exists(p) {
			t.Errorf("sidecar %s should never be evicted", filepath.Base(p))
		}
	}
	if _, ok := c.Lookup("abc"); ok {
		t.Error("sidecar files must not count as cache hits")
	}
}

func TestEvictExpiredSkipsPinned(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	path := writeCacheFile(t, c.Root(), "live.opus", 1024, 10*time.Hour)

	release := c.Pin("live")
	report, err := c.EvictExpired(context.Background(), time.Hour, 1<<30)
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if !exists(path) || report.Pinned != 1 {
		t.Fatalf("pinned entry evicted: report=%+v", report)
	}

	release()
	release()
	if _, err := c.EvictExpired(context.Background(), time.Hour, 1<<30); err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if exists(path) {
		t.Fatal("released entry should be evicted")
	}
}

func TestEvictExpiredDeleteFailureContinues(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	stuck := writeCacheFile(t, c.Root(), "stuck.webm", 1024, 3*time.Hour)
	gone := writeCacheFile(t, c.Root(), "gone.webm", 1024, 2*time.Hour)
	c.remove = func(p string) error {
		if p == stuck {
			return errors.New("permission denied")
		}
		return os.Remove(p)
	}

	report, err := c.EvictExpired(context.Background(), time.Hour, 1<<30)
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if exists(gone) {
		t.Error("pass should continue after a failed deletion")
	}
	if report.Failed != 1 || report.Removed != 1 {
		t.Fatalf("report = %+v, want 1 failed and 1 removed", report)
	}
}

func TestCacheLookup(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	writeCacheFile(t, c.Root(), "dQw4w9WgXcQ.webm", 10, 2*time.Hour)
	newer := writeCacheFile(t, c.Root(), "dQw4w9WgXcQ.m4a", 10, time.Minute)
	writeCacheFile(t, c.Root(), "dQw4w9WgXcQx.webm", 10, 0)

	entry, ok := c.Lookup("dQw4w9WgXcQ")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if entry.Path != newer {
		t.Fatalf("Lookup = %s, want newest %s", entry.Path, newer)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("unexpected hit for missing id")
	}
}

func TestCacheClearAll(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	writeCacheFile(t, c.Root(), "a.webm", 100, 0)
	writeCacheFile(t, c.Root(), "b.webm", 200, 0)
	keep := writeCacheFile(t, c.Root(), "c.webm", 300, 0)
	part := writeCacheFile(t, c.Root(), "d.webm.part", 400, 0)
	defer c.Pin("c")()

	report, err := c.ClearAll(context.Background())
	if err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if report.Removed != 2 || report.Freed != 300 || report.Pinned != 1 {
		t.Fatalf("report = %+v", report)
	}
	if !exists(keep) || !exists(part) {
		t.Fatal("pinned and partial files must survive ClearAll")
	}
}

func TestCacheMissingRoot(t *testing.T) {
	t.Parallel()
	c := NewCacheStore(filepath.Join(t.TempDir(), "nope"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	report, err := c.EvictExpired(context.Background(), time.Hour, 1)
	if err != nil {
		t.Fatalf("missing root should be an empty cache: %v", err)
	}
	if report.Removed != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCacheDedupe(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	old := writeCacheFile(t, c.Root(), "vid.m4a", 10, time.Hour)
	keep := writeCacheFile(t, c.Root(), "vid.webm", 10, 0)
	other := writeCacheFile(t, c.Root(), "other.m4a", 10, time.Hour)

	c.Dedupe("vid", keep)

	if exists(old) {
		t.Error("older format of the same id should be removed")
	}
	if !exists(keep) || !exists(other) {
		t.Error("kept file and unrelated ids must survive")
	}
}

func TestCacheEntriesOldestFirst(t *testing.T) {
	t.Parallel()
	c := newTestCache(t)
	writeCacheFile(t, c.Root(), "new.opus", 1, time.Minute)
	writeCacheFile(t, c.Root(), "old.webm", 1, time.Hour)
	writeCacheFile(t, c.Root(), "old.webm.part", 1, 2*time.Hour)

	entries, err := c.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "old" || entries[1].ID != "new" {
		t.Fatalf("Entries() = %+v, want old then new", entries)
	}
}
