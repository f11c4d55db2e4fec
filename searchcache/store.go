// Package searchcache is the result cache: completed search payloads
// keyed by query fingerprint, shared across engine processes through a
// NATS KV bucket with a process-local bounded cache as both a fast path
// and a fallback.
//
// Two rules shape everything here. First, the cache may never break a
// search: any backend failure is logged and presented as a miss or a
// dropped write. Second, a service configuration change invalidates the
// whole cache at once, detected by comparing the registry generation on
// every operation.
package searchcache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/natsclient"
	"github.com/elis-salobehaj/log-ai/pkg/cache"
)

// Mode names the backend currently serving cache traffic.
type Mode string

// Backend modes, reported through health.
const (
	ModeDistributed Mode = "distributed"
	ModeLocal       Mode = "local"
	ModeDisabled    Mode = "disabled"
)

// kvRetryCooldown is how long the store stays on the local backend
// after a KV failure before probing the distributed one again.
const kvRetryCooldown = 30 * time.Second

// Config bounds the local store.
type Config struct {
	Enabled    bool
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// DefaultConfig mirrors the local cache defaults: 100 entries, 500MB,
// 10 minute TTL.
func DefaultConfig() Config {
	c := cache.DefaultConfig()
	return Config{
		Enabled:    true,
		MaxEntries: c.MaxEntries,
		MaxBytes:   c.MaxBytes,
		TTL:        c.TTL,
	}
}

// Store is the two-tier result cache.
type Store struct {
	local   cache.Cache[[]byte]
	kv      *natsclient.KVStore
	logger  *slog.Logger
	enabled bool

	// generation yields the current registry generation; the store
	// remembers the generation its contents were populated under.
	generation   func() uint64
	populatedGen atomic.Uint64

	kvHealthy     atomic.Bool
	lastKVFailure atomic.Int64 // unix nanos

	clearMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithKV attaches the distributed backend. Without it the store runs
// purely process-local.
func WithKV(kv *natsclient.KVStore) Option {
	return func(s *Store) { s.kv = kv }
}

// WithLogger sets the structured logger for degradation events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the store. generation supplies the current registry
// generation and must be safe for concurrent use.
func New(ctx context.Context, cfg Config, generation func() uint64, opts ...Option) (*Store, error) {
	s := &Store{
		logger:     slog.Default(),
		generation: generation,
		enabled:    cfg.Enabled,
	}
	for _, opt := range opts {
		opt(s)
	}

	localCfg := cache.Config{
		Enabled:         cfg.Enabled,
		MaxEntries:      cfg.MaxEntries,
		MaxBytes:        cfg.MaxBytes,
		TTL:             cfg.TTL,
		CleanupInterval: time.Minute,
	}
	local, err := cache.NewBounded(ctx, localCfg,
		cache.WithSizer[[]byte](func(v []byte) int64 { return int64(len(v)) }))
	if err != nil {
		return nil, errors.Wrap(err, "Store", "New", "create local cache")
	}
	s.local = local

	s.kvHealthy.Store(true)
	if generation != nil {
		s.populatedGen.Store(generation())
	}

	return s, nil
}

// Get returns the cached payload for a fingerprint, or ok=false on any
// miss, expiry, or backend trouble.
func (s *Store) Get(ctx context.Context, fp Fingerprint) ([]byte, bool) {
	s.checkGeneration(ctx)

	if payload, ok := s.local.Get(string(fp)); ok {
		return payload, true
	}

	if !s.useKV() {
		return nil, false
	}

	entry, err := s.kv.Get(ctx, string(fp))
	if err != nil {
		if !errors.Is(err, errors.ErrKeyNotFound) {
			s.degrade("get", err)
		}
		return nil, false
	}

	// Warm the local tier so repeats skip the network.
	s.local.Set(string(fp), entry.Value)
	return entry.Value, true
}

// Put stores a payload under a fingerprint. Failures are absorbed; the
// worst outcome is a future recomputation.
func (s *Store) Put(ctx context.Context, fp Fingerprint, payload []byte) {
	s.checkGeneration(ctx)

	s.local.Set(string(fp), payload)

	if !s.useKV() {
		return
	}

	if _, err := s.kv.Put(ctx, string(fp), payload); err != nil {
		s.degrade("put", err)
	}
}

// Mode reports which backend is currently serving traffic.
func (s *Store) Mode() Mode {
	if !s.enabled {
		return ModeDisabled
	}
	if s.kv != nil && s.kvHealthy.Load() {
		return ModeDistributed
	}
	return ModeLocal
}

// Close releases the local cache resources.
func (s *Store) Close() error {
	return s.local.Close()
}

// checkGeneration drops the entire cache when the registry generation
// advanced past the one the contents were populated under. Coarse but
// correct: a config change can alter path semantics for any entry.
func (s *Store) checkGeneration(ctx context.Context) {
	if s.generation == nil {
		return
	}

	current := s.generation()
	populated := s.populatedGen.Load()
	if current == populated {
		return
	}

	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	// Re-check under the lock; another caller may have cleared already.
	if s.populatedGen.Load() == current {
		return
	}

	s.logger.Info("service configuration changed, dropping result cache",
		"populated_generation", populated,
		"current_generation", current)

	s.local.Clear()

	if s.useKV() {
		if err := s.kv.PurgeAll(ctx); err != nil {
			s.degrade("invalidate", err)
		}
	}

	s.populatedGen.Store(current)
}

// useKV reports whether the distributed tier should be tried, flipping
// back to probing after the cooldown.
func (s *Store) useKV() bool {
	if s.kv == nil {
		return false
	}
	if s.kvHealthy.Load() {
		return true
	}

	last := time.Unix(0, s.lastKVFailure.Load())
	if time.Since(last) >= kvRetryCooldown {
		s.kvHealthy.Store(true)
		return true
	}
	return false
}

// degrade records a distributed-tier failure and falls back to local.
func (s *Store) degrade(op string, err error) {
	s.lastKVFailure.Store(time.Now().UnixNano())
	if s.kvHealthy.Swap(false) {
		s.logger.Warn("distributed result cache unavailable, using local fallback",
			"operation", op, "error", err)
	}
}
