package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// CacheMetrics holds cache statistics.
type CacheMetrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// CacheConfig configures a CachedStorage.
type CacheConfig struct {
	// Dir holds the cached copies. Required.
	Dir string

	// MaxBytes bounds the total size of the cached copies. Required.
	MaxBytes int64

	// SkipSuffixes lists key suffixes that are always read from the remote
	// storage.
	SkipSuffixes []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CachedStorage keeps local copies of objects read from or written to a
// remote ObjectStorage. Reads are served from the local copy when one
// exists; writes go to the remote first and are then cached. A copy can go
// stale when another writer replaces the remote object; Invalidate drops it.
type CachedStorage struct {
	remote   ObjectStorage
	dir      string
	maxBytes int64
	skip     []string
	logger   *slog.Logger

	mu      sync.Mutex // serializes writes and eviction
	index   sync.Map   // key → *cacheEntry
	metrics CacheMetrics
}

type cacheEntry struct {
	path        string
	size        int64
	lastAccess  atomic.Int64 // Unix nanos
	accessCount atomic.Int64
}

// NewCachedStorage wraps remote with a local cache. Objects already in
// cfg.Dir are indexed again.
func NewCachedStorage(remote ObjectStorage, cfg CacheConfig) (*CachedStorage, error) {
	if cfg.Dir == "" {
		return nil, errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig, "cache directory is empty")
	}
	if cfg.MaxBytes <= 0 {
		return nil, errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
			fmt.Sprintf("cache max bytes must be positive, got %d", cfg.MaxBytes))
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.NewStorageError(errors.CodeUnexpected, "failed to create cache directory", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &CachedStorage{
		remote:   remote,
		dir:      cfg.Dir,
		maxBytes: cfg.MaxBytes,
		skip:     cfg.SkipSuffixes,
		logger:   logger.With("component", "cache"),
	}
	if err := c.scanExistingFiles(); err != nil {
		return nil, errors.NewStorageError(errors.CodeUnexpected, "failed to scan cache directory", err)
	}
	return c, nil
}

func (c *CachedStorage) scanExistingFiles() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entry := &cacheEntry{path: filepath.Join(c.dir, e.Name()), size: info.Size()}
		entry.lastAccess.Store(now)
		c.index.Store(key, entry)
		c.metrics.SizeBytes.Add(entry.size)
		c.metrics.Entries.Add(1)
	}
	return nil
}

// Put writes data to the remote storage, then caches it.
func (c *CachedStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := c.remote.Put(ctx, key, data); err != nil {
		return err
	}
	c.store(key, data)
	return nil
}

// Get returns the cached copy of key, fetching it from the remote storage
// on a miss.
func (c *CachedStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if c.skipped(key) {
		return c.remote.Get(ctx, key)
	}
	if v, ok := c.index.Load(key); ok {
		entry := v.(*cacheEntry)
		data, err := os.ReadFile(entry.path)
		if err == nil {
			c.metrics.Hits.Add(1)
			entry.lastAccess.Store(time.Now().UnixNano())
			entry.accessCount.Add(1)
			return data, nil
		}
		c.remove(key)
	}

	c.metrics.Misses.Add(1)
	data, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.store(key, data)
	return data, nil
}

// Delete removes key from the remote storage and the cache.
func (c *CachedStorage) Delete(ctx context.Context, key string) error {
	c.remove(key)
	return c.remote.Delete(ctx, key)
}

// Exists asks the remote storage; a cached copy may be stale.
func (c *CachedStorage) Exists(ctx context.Context, key string) (bool, error) {
	return c.remote.Exists(ctx, key)
}

// List lists keys in the remote storage.
func (c *CachedStorage) List(ctx context.Context, prefix string) ([]string, error) {
	return c.remote.List(ctx, prefix)
}

// Invalidate drops the cached copy of key, if any.
func (c *CachedStorage) Invalidate(key string) {
	c.remove(key)
}

func (c *CachedStorage) skipped(key string) bool {
	for _, suffix := range c.skip {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// store writes a local copy of data. Failures only cost a future miss.
func (c *CachedStorage) store(key string, data []byte) {
	size := int64(len(data))
	if size > c.maxBytes || c.skipped(key) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	path := filepath.Join(c.dir, url.PathEscape(key))
	if err := os.WriteFile(path, data, 0644); err != nil {
		c.logger.Warn("failed to cache object", "key", key, "error", err)
		return
	}
	entry := &cacheEntry{path: path, size: size}
	entry.lastAccess.Store(time.Now().UnixNano())
	entry.accessCount.Store(1)
	c.index.Store(key, entry)
	c.metrics.SizeBytes.Add(size)
	c.metrics.Entries.Add(1)

	if c.metrics.SizeBytes.Load() > c.maxBytes {
		c.evictLocked(key)
	}
}

// evictLocked drops the least used entries, oldest access first, until the
// cache is within 90% of its capacity. keep is never evicted.
func (c *CachedStorage) evictLocked(keep string) {
	target := int64(float64(c.maxBytes) * 0.9)

	type candidate struct {
		key        string
		accessTime int64
		count      int64
	}
	var candidates []candidate
	c.index.Range(func(k, v interface{}) bool {
		key := k.(string)
		if key == keep {
			return true
		}
		entry := v.(*cacheEntry)
		candidates = append(candidates, candidate{
			key:        key,
			accessTime: entry.lastAccess.Load(),
			count:      entry.accessCount.Load(),
		})
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count < candidates[j].count
		}
		return candidates[i].accessTime < candidates[j].accessTime
	})

	for _, cand := range candidates {
		if c.metrics.SizeBytes.Load() <= target {
			break
		}
		if freed := c.removeLocked(cand.key); freed > 0 {
			c.metrics.Evictions.Add(1)
			c.logger.Debug("evicted cached object", "key", cand.key, "freed_bytes", freed)
		}
	}
}

func (c *CachedStorage) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// removeLocked drops key from the cache and returns the bytes freed.
func (c *CachedStorage) removeLocked(key string) int64 {
	v, ok := c.index.LoadAndDelete(key)
	if !ok {
		return 0
	}
	entry := v.(*cacheEntry)
	os.Remove(entry.path)
	c.metrics.SizeBytes.Add(-entry.size)
	c.metrics.Entries.Add(-1)
	return entry.size
}

// Metrics returns current cache metrics.
func (c *CachedStorage) Metrics() (hits, misses, evictions, entries, size int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load(),
		c.metrics.Entries.Load(), c.metrics.SizeBytes.Load()
}

// HitRate returns the cache hit rate as a percentage.
func (c *CachedStorage) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
