// Package cache provides a generic, thread-safe in-memory cache used as the
// process-local store behind the search result cache.
//
// The primary implementation is a bounded cache combining three eviction
// triggers: least-recently-used ordering bounded by a maximum entry count,
// an aggregate payload byte budget, and a per-entry time-to-live. Statistics
// are always collected; Prometheus metrics export is optional via functional
// options.
package cache

import (
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
)

// Cache is the interface all cache implementations satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found,
	// zero value and false otherwise. Expired entries count as misses.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was
	// created, false if an existing one was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Bytes returns the aggregate payload size of all entries, as measured
	// by the configured sizer. Zero when no sizer is configured.
	Bytes() int64

	// Keys returns all non-expired keys, most recently used first.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and releases background resources.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Sizer reports the payload size of a value in bytes, used to enforce the
// aggregate byte budget.
type Sizer[V any] func(value V) int64

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

// NewNoop creates a cache that does nothing (always returns cache misses).
// Useful when caching is disabled via configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)   { return false, nil }
func (c *noopCache[V]) Clear() error                    { return nil }
func (c *noopCache[V]) Size() int                       { return 0 }
func (c *noopCache[V]) Bytes() int64                    { return 0 }
func (c *noopCache[V]) Keys() []string                  { return nil }
func (c *noopCache[V]) Stats() *Statistics              { return nil }
func (c *noopCache[V]) Close() error                    { return nil }

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"enabled"`

	// MaxEntries is the maximum number of entries before LRU eviction.
	MaxEntries int `json:"max_entries"`

	// MaxBytes is the aggregate payload byte budget (0 = unbounded).
	// Requires a Sizer option to take effect.
	MaxBytes int64 `json:"max_bytes"`

	// TTL is the time-to-live for entries measured from insertion.
	TTL time.Duration `json:"ttl"`

	// CleanupInterval is how often the background sweep removes expired
	// entries. Expiry is also checked lazily on every Get.
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxEntries:      100,
		MaxBytes:        500 * 1024 * 1024,
		TTL:             10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxEntries <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate", "max_entries must be positive")
	}
	if c.MaxBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate", "max_bytes cannot be negative")
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate", "ttl must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate", "cleanup_interval must be positive")
	}
	return nil
}
