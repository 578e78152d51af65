package proc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/melody/sys"
)

// CacheEntry is one downloaded media file under the cache root.
type CacheEntry struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
}

// EvictionReport summarizes one eviction or clear pass.
type EvictionReport struct {
	Removed   int
	Freed     int64
	Remaining int64
	Pinned    int
	Failed    int
}

// CacheStore owns the audio cache directory shared by every guild.
type CacheStore struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	pinned map[string]int

	now    func() time.Time
	remove func(string) error
}

func NewCacheStore(root string, logger *slog.Logger) *CacheStore {
	if logger == nil {
		logger = sys.ComponentLogger("cache")
	}
	return &CacheStore{
		root:   root,
		logger: logger,
		pinned: make(map[string]int),
		now:    time.Now,
		remove: os.Remove,
	}
}

func (c *CacheStore) Root() string {
	return c.root
}

// EnsureRoot creates the cache directory if it is missing.
func (c *CacheStore) EnsureRoot() error {
	return os.MkdirAll(c.root, 0o755)
}

func isSidecar(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	lower := strings.ToLower(name)
	for _, suffix := range []string{".part", ".json", ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, ".part-frag")
}

func entryID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// scan lists media files at the top level of the cache root. A missing root
// is an empty cache.
func (c *CacheStore) scan() ([]CacheEntry, error) {
	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	entries := make([]CacheEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || isSidecar(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, CacheEntry{
			ID:      entryID(de.Name()),
			Path:    filepath.Join(c.root, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Lookup returns the cached file for a content id. When more than one file
// matches, the newest wins.
func (c *CacheStore) Lookup(id string) (CacheEntry, bool) {
	if id == "" {
		return CacheEntry{}, false
	}
	entries, err := c.scan()
	if err != nil {
		c.logger.Warn(err.Error())
		return CacheEntry{}, false
	}

	var best CacheEntry
	found := false
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		if !found || e.ModTime.After(best.ModTime) {
			best, found = e, true
		}
	}
	return best, found
}

// Dedupe removes every file for id other than keep.
func (c *CacheStore) Dedupe(id, keep string) {
	entries, err := c.scan()
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.ID != id || e.Path == keep {
			continue
		}
		if err := c.remove(e.Path); err != nil {
			c.logger.Warn(fmt.Sprintf(sys.MsgCacheEvictFail, e.Path, err))
			continue
		}
		c.logger.Info(fmt.Sprintf(sys.MsgCacheDedupe, filepath.Base(e.Path)))
	}
}

// Pin protects the entry for id from eviction until the returned release
// func is called. Release is idempotent.
func (c *CacheStore) Pin(id string) func() {
	c.mu.Lock()
	c.pinned[id]++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.pinned[id] <= 1 {
				delete(c.pinned, id)
				return
			}
			c.pinned[id]--
		})
	}
}

func (c *CacheStore) isPinned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned[id] > 0
}

// Entries lists cached media files, oldest first.
func (c *CacheStore) Entries() ([]CacheEntry, error) {
	entries, err := c.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Size returns the total bytes of media files currently cached.
func (c *CacheStore) Size() (int64, int, error) {
	entries, err := c.scan()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, len(entries), nil
}

// EvictExpired runs one oldest-first pass. A file goes when it is older than
// maxAge or when the running total is still above maxBytes. Pinned entries
// and failed deletions stay and keep counting toward the total.
func (c *CacheStore) EvictExpired(ctx context.Context, maxAge time.Duration, maxBytes int64) (EvictionReport, error) {
	entries, err := c.scan()
	if err != nil {
		return EvictionReport{}, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	now := c.now()
	var report EvictionReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			report.Remaining = total
			return report, err
		}

		if now.Sub(e.ModTime) <= maxAge && total <= maxBytes {
			continue
		}
		if c.isPinned(e.ID) {
			report.Pinned++
			continue
		}
		if err := c.remove(e.Path); err != nil {
			report.Failed++
			c.logger.Warn(fmt.Sprintf(sys.MsgCacheEvictFail, e.Path, err))
			continue
		}
		total -= e.Size
		report.Removed++
		report.Freed += e.Size
	}
	report.Remaining = total

	if report.Removed > 0 {
		c.logger.Info(fmt.Sprintf(sys.MsgCacheEvicted, report.Removed, sys.FormatBytes(report.Freed), sys.FormatBytes(report.Remaining)))
	}
	return report, nil
}

// ClearAll deletes every unpinned media file.
func (c *CacheStore) ClearAll(ctx context.Context) (EvictionReport, error) {
	entries, err := c.scan()
	if err != nil {
		return EvictionReport{}, err
	}

	var report EvictionReport
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if c.isPinned(e.ID) {
			report.Pinned++
			report.Remaining += e.Size
			continue
		}
		if err := c.remove(e.Path); err != nil {
			report.Failed++
			report.Remaining += e.Size
			c.logger.Warn(fmt.Sprintf(sys.MsgCacheEvictFail, e.Path, err))
			continue
		}
		report.Removed++
		report.Freed += e.Size
	}
	return report, nil
}

// Thresholds supplies the current eviction limits for a cycle.
type Thresholds func() (maxAge time.Duration, maxBytes int64)

// Run evicts on every tick until ctx is done. A failed cycle is logged and
// the next tick proceeds on schedule.
func (c *CacheStore) Run(ctx context.Context, interval time.Duration, limits Thresholds) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx, limits)
		}
	}
}

func (c *CacheStore) cycle(ctx context.Context, limits Thresholds) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(fmt.Sprintf(sys.MsgCacheCycleFail, r))
		}
	}()
	maxAge, maxBytes := limits()
	if _, err := c.EvictExpired(ctx, maxAge, maxBytes); err != nil && ctx.Err() == nil {
		c.logger.Error(fmt.Sprintf(sys.MsgCacheCycleFail, err))
	}
}
