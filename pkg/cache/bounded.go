package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
)

// boundedEntry represents an entry in the bounded cache.
type boundedEntry[V any] struct {
	key       string
	value     V
	size      int64
	expiresAt time.Time
}

// boundedCache combines LRU, byte-budget, and TTL eviction policies. Items
// are evicted when the entry count or aggregate byte size exceeds its bound
// (least recently used first) or when they expire, whichever comes first.
type boundedCache[V any] struct {
	mu         sync.RWMutex
	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	items      map[string]*list.Element // key -> list element
	order      *list.List               // doubly-linked list for LRU ordering
	totalBytes int64
	stats      *Statistics
	metrics    *cacheMetrics    // Optional, if metrics enabled
	evictFn    EvictCallback[V] // Optional callback
	sizer      Sizer[V]         // Optional, enables the byte budget
	now        func() time.Time // Injectable clock for TTL tests

	// Background cleanup coordination
	cleanupInterval time.Duration
	shutdown        chan struct{}
	done            chan struct{}
}

// NewBounded creates a cache enforcing maxEntries, an optional byte budget,
// and a per-entry TTL. The background sweep runs until ctx is cancelled or
// Close is called.
func NewBounded[V any](ctx context.Context, cfg Config, options ...Option[V]) (Cache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewBounded", "config validation")
	}
	if !cfg.Enabled {
		return NewNoop[V](), nil
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewBounded", "metrics registration")
		}
	}

	c := &boundedCache[V]{
		maxEntries:      cfg.MaxEntries,
		maxBytes:        cfg.MaxBytes,
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		items:           make(map[string]*list.Element),
		order:           list.New(),
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		sizer:           opts.sizer,
		now:             opts.clock,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}

	go c.cleanup(ctx)

	return c, nil
}

// Get retrieves a value by key, checking expiry lazily and updating LRU order.
func (c *boundedCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.recordMiss()
		return zero, false
	}

	entry := element.Value.(*boundedEntry[V])
	if c.now().After(entry.expiresAt) {
		c.removeElement(element)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
		c.recordMiss()
		c.syncSizeStats()

		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores a value, then evicts LRU entries until both the entry count and
// the byte budget are satisfied.
func (c *boundedCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var size int64
	if c.sizer != nil {
		size = c.sizer(value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	isNew := true
	if element, exists := c.items[key]; exists {
		entry := element.Value.(*boundedEntry[V])
		c.totalBytes += size - entry.size
		entry.value = value
		entry.size = size
		entry.expiresAt = expiresAt
		c.order.MoveToFront(element)
		isNew = false
	} else {
		entry := &boundedEntry[V]{key: key, value: value, size: size, expiresAt: expiresAt}
		element := c.order.PushFront(entry)
		c.items[key] = element
		c.totalBytes += size
	}

	for len(c.items) > c.maxEntries || (c.maxBytes > 0 && c.totalBytes > c.maxBytes && len(c.items) > 1) {
		c.evictLRU()
	}

	c.stats.Set()
	c.syncSizeStats()
	if c.metrics != nil {
		c.metrics.recordSet()
	}
	return isNew, nil
}

// Delete removes an entry by key.
func (c *boundedCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false, nil
	}
	c.removeElement(element)

	c.stats.Delete()
	c.syncSizeStats()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}
	return true, nil
}

// Clear removes all entries from the cache.
func (c *boundedCache[V]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evictFn != nil {
		for element := c.order.Back(); element != nil; element = element.Prev() {
			entry := element.Value.(*boundedEntry[V])
			c.evictFn(entry.key, entry.value)
		}
	}

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.totalBytes = 0
	c.syncSizeStats()
	return nil
}

// Size returns the current number of entries in the cache.
func (c *boundedCache[V]) Size() int {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return size
}

// Bytes returns the aggregate payload size of all entries.
func (c *boundedCache[V]) Bytes() int64 {
	c.mu.RLock()
	total := c.totalBytes
	c.mu.RUnlock()
	return total
}

// Keys returns all non-expired keys, most recently used first.
func (c *boundedCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	now := c.now()
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*boundedEntry[V])
		if now.Before(entry.expiresAt) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *boundedCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache and stops the background cleanup goroutine.
func (c *boundedCache[V]) Close() error {
	select {
	case <-c.shutdown:
		// Already shutting down
	default:
		close(c.shutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

// recordMiss updates miss counters. Must be called with mutex held.
func (c *boundedCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// syncSizeStats pushes size gauges. Must be called with mutex held.
func (c *boundedCache[V]) syncSizeStats() {
	c.stats.UpdateSize(int64(len(c.items)))
	c.stats.UpdateMemoryUsage(c.totalBytes)
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
		c.metrics.updateBytes(c.totalBytes)
	}
}

// evictLRU removes the least recently used item. Must be called with mutex held.
func (c *boundedCache[V]) evictLRU() {
	element := c.order.Back()
	if element != nil {
		c.removeElement(element)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
}

// removeElement removes an element from both the list and map.
// Must be called with mutex held.
func (c *boundedCache[V]) removeElement(element *list.Element) {
	entry := element.Value.(*boundedEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.totalBytes -= entry.size

	if c.evictFn != nil {
		// Callback fires outside of the critical section
		defer c.evictFn(entry.key, entry.value)
	}
}

// cleanup periodically removes expired entries in the background.
func (c *boundedCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *boundedCache[V]) removeExpired() {
	var expired []*boundedEntry[V]

	c.mu.Lock()
	now := c.now()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*boundedEntry[V])
		if now.After(entry.expiresAt) {
			expired = append(expired, entry)
			delete(c.items, entry.key)
			c.order.Remove(element)
			c.totalBytes -= entry.size
		}
		element = next
	}
	for range expired {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	c.syncSizeStats()
	c.mu.Unlock()

	// Eviction callbacks fire outside the lock
	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
}
