// Package cache keeps loaded artifacts in memory, keyed by absolute path and
// invalidated when the file's size or modification time changes.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rrebane/salk-toolkit/internal/persist"
	"github.com/rrebane/salk-toolkit/internal/table"
)

// LoadFunc reads an artifact from disk.
type LoadFunc func(ctx context.Context, path string) (*table.Table, *persist.Metadata, error)

type entry struct {
	table   *table.Table
	meta    *persist.Metadata
	size    int64
	modTime time.Time
}

// Cache is safe for concurrent use. Concurrent loads of one path share a
// single read. Returned tables are shared: callers must Clone before
// modifying them.
type Cache struct {
	load   LoadFunc
	logger *slog.Logger

	entries *lru.Cache[string, *entry]
	group   singleflight.Group
}

// New creates a cache. A nil load reads with persist.Load; maxEntries <= 0
// means unbounded.
func New(load LoadFunc, maxEntries int, logger *slog.Logger) *Cache {
	if load == nil {
		load = func(ctx context.Context, path string) (*table.Table, *persist.Metadata, error) {
			return persist.Load(ctx, path, persist.Options{})
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = math.MaxInt
	}
	c := &Cache{load: load, logger: logger}
	// only fails for a non-positive size
	c.entries, _ = lru.NewWithEvict(maxEntries, func(path string, _ *entry) {
		c.logger.Debug("evicted cached artifact", "path", path)
	})
	return c
}

// Load returns the artifact at path, reading it only when it is not cached
// or changed on disk since it was.
func (c *Cache) Load(ctx context.Context, path string) (*table.Table, *persist.Metadata, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		c.entries.Remove(abs)
		return nil, nil, err
	}

	if e, ok := c.entries.Get(abs); ok && e.size == fi.Size() && e.modTime.Equal(fi.ModTime()) {
		return e.table, e.meta, nil
	}

	key := fmt.Sprintf("%s|%d|%d", abs, fi.Size(), fi.ModTime().UnixNano())
	v, err, shared := c.group.Do(key, func() (any, error) {
		t, md, err := c.load(ctx, abs)
		if err != nil {
			return nil, err
		}
		e := &entry{table: t, meta: md, size: fi.Size(), modTime: fi.ModTime()}
		c.entries.Add(abs, e)
		return e, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if shared {
		c.logger.Debug("shared artifact load", "path", abs)
	}
	e := v.(*entry)
	return e.table, e.meta, nil
}

// Invalidate drops the entry for path.
func (c *Cache) Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	c.entries.Remove(abs)
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int { return c.entries.Len() }
