// Package manifest holds the process-wide cache of resolved variant
// catalogues. The cache never fetches: callers resolve a catalogue through
// the catalogue service and Put it.
package manifest

import (
	"errors"
	"log/slog"
	"sync"

	"hls-player/internal/media"
	"hls-player/internal/platform/metrics"
)

// DefaultCapacity is the number of catalogues kept before eviction.
const DefaultCapacity = 10

// ErrNilCatalogue is returned by Put when given a nil catalogue.
var ErrNilCatalogue = errors.New("manifest: nil catalogue")

// Cache is a concurrency-safe, bounded cache of catalogues keyed by source.
// Build one at process start and share it between controllers; catalogues
// are immutable once stored and are handed out by reference.
type Cache struct {
	mu      sync.Mutex
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for eviction messages.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithMetrics records hits, misses and size on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache returns a cache backed by a strict LRU store of the given
// capacity. If capacity <= 0, DefaultCapacity is used.
func NewCache(capacity int, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	store, err := NewLRUStore(capacity, func(id media.SourceID) {
		c.log.Debug("manifest evicted", slog.String("source_id", string(id)))
	})
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

// NewCacheWithStore returns a cache over an explicit Store.
// Useful for testing or for plugging in a different eviction policy.
func NewCacheWithStore(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached catalogue for id and marks it most recently used.
func (c *Cache) Get(id media.SourceID) (*media.Catalogue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, ok := c.store.Get(id)
	c.metrics.ObserveCacheLookup(ok)
	return cat, ok
}

// Put stores cat under id. Putting an existing id replaces the entry and
// marks it most recently used; a full cache evicts its least recently used
// entry first.
func (c *Cache) Put(id media.SourceID, cat *media.Catalogue) error {
	if cat == nil {
		return ErrNilCatalogue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Add(id, cat)
	c.metrics.SetCacheEntries(c.store.Len())
	return nil
}

// Remove drops id from the cache.
func (c *Cache) Remove(id media.SourceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.store.Remove(id)
	c.metrics.SetCacheEntries(c.store.Len())
	return ok
}

// Len returns the number of cached catalogues.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// Keys lists cached ids from least to most recently used.
func (c *Cache) Keys() []media.SourceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Keys()
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Purge()
	c.metrics.SetCacheEntries(0)
}
