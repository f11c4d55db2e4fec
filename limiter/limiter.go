// Package limiter enforces the global concurrent-search ceiling across
// every engine process sharing a NATS KV bucket. A decimal counter in
// the bucket holds the number of outstanding slots; acquisition is an
// atomic increment followed by a ceiling check, with the increment
// rolled back when the budget is full.
//
// When the bucket is unreachable the limiter degrades to a
// process-local semaphore with the same ceiling, so searches keep
// running with per-process rather than fleet-wide enforcement. The
// bucket should be created with a TTL a few multiples of the search
// wall-clock ceiling so a crashed holder's increment ages out instead
// of starving the budget forever.
package limiter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/metric"
	"github.com/elis-salobehaj/log-ai/natsclient"
	"github.com/elis-salobehaj/log-ai/pkg/retry"
)

// Mode names the enforcement scope currently in effect.
type Mode string

// Enforcement modes, reported through health.
const (
	ModeDistributed Mode = "distributed"
	ModeLocal       Mode = "local"
)

const (
	// DefaultCeiling is the fleet-wide concurrent search budget.
	DefaultCeiling = 20

	// DefaultCounterKey is the KV key holding the outstanding count.
	DefaultCounterKey = "active_searches"

	// kvRetryCooldown is how long the limiter stays on the local
	// semaphore after a KV failure before probing the bucket again.
	kvRetryCooldown = 30 * time.Second

	// releaseTimeout bounds the KV decrement on release, which runs
	// on its own context so a cancelled search still frees its slot.
	releaseTimeout = 5 * time.Second
)

// errBudgetFull is the retryable signal inside the acquire loop when
// the counter is at the ceiling.
var errBudgetFull = errors.New("limiter: budget full")

// Token represents one held slot in the budget. Release is idempotent;
// callers should defer it as soon as Acquire succeeds.
type Token struct {
	release func()
	once    sync.Once
}

// Release returns the slot to the budget. Safe to call more than once;
// only the first call has an effect.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.release)
}

// Limiter is the admission gate.
type Limiter struct {
	ceiling    int64
	counterKey string
	kv         *natsclient.KVStore
	sem        *semaphore.Weighted
	retryCfg   retry.Config
	logger     *slog.Logger
	metrics    *metric.Metrics

	kvHealthy     atomic.Bool
	lastKVFailure atomic.Int64 // unix nanos

	// held tracks slots this process holds, across both backends, so
	// the in-use gauge and Outstanding stay accurate through failover.
	held atomic.Int64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithKV attaches the shared counter bucket. Without it the limiter is
// purely process-local.
func WithKV(kv *natsclient.KVStore) Option {
	return func(l *Limiter) { l.kv = kv }
}

// WithCounterKey overrides the KV key holding the counter.
func WithCounterKey(key string) Option {
	return func(l *Limiter) {
		if key != "" {
			l.counterKey = key
		}
	}
}

// WithRetry overrides the acquire backoff schedule.
func WithRetry(cfg retry.Config) Option {
	return func(l *Limiter) { l.retryCfg = cfg }
}

// WithLogger sets the structured logger for degradation events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics wires the admission gauges and counters.
func WithMetrics(m *metric.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New builds a limiter with the given ceiling. Ceiling must be
// positive.
func New(ceiling int, opts ...Option) (*Limiter, error) {
	if ceiling <= 0 {
		return nil, errors.WrapInvalid(
			errors.New("ceiling must be positive"),
			"Limiter", "New", "validate ceiling")
	}
	l := &Limiter{
		ceiling:    int64(ceiling),
		counterKey: DefaultCounterKey,
		sem:        semaphore.NewWeighted(int64(ceiling)),
		retryCfg:   retry.Admission(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.kvHealthy.Store(l.kv != nil)
	return l, nil
}

// Acquire blocks until a slot is granted, the retry schedule is
// exhausted, or ctx ends. Exhaustion returns ErrSaturated so callers
// can answer with a retry hint instead of an opaque failure.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	var tok *Token
	err := retry.Do(ctx, l.retryCfg, func() error {
		t, err := l.tryAcquire(ctx)
		if err != nil {
			if errors.Is(err, errBudgetFull) {
				l.countRetry()
				return err
			}
			return retry.NonRetryable(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "Limiter", "Acquire", "wait for slot")
		}
		if errors.Is(err, errBudgetFull) {
			if l.metrics != nil {
				l.metrics.AdmissionRejected.Inc()
			}
			return nil, errors.WrapTransient(errors.ErrSaturated,
				"Limiter", "Acquire", "acquire search slot")
		}
		return nil, err
	}
	l.granted()
	return tok, nil
}

// TryAcquire attempts a single grab with no backoff.
func (l *Limiter) TryAcquire(ctx context.Context) (*Token, error) {
	tok, err := l.tryAcquire(ctx)
	if err != nil {
		if errors.Is(err, errBudgetFull) {
			if l.metrics != nil {
				l.metrics.AdmissionRejected.Inc()
			}
			return nil, errors.WrapTransient(errors.ErrSaturated,
				"Limiter", "TryAcquire", "acquire search slot")
		}
		return nil, err
	}
	l.granted()
	return tok, nil
}

// tryAcquire makes one attempt against whichever backend is healthy.
func (l *Limiter) tryAcquire(ctx context.Context) (*Token, error) {
	if l.useKV() {
		tok, err := l.tryAcquireKV(ctx)
		if err == nil || errors.Is(err, errBudgetFull) {
			return tok, err
		}
		l.degrade(err)
	}
	return l.tryAcquireLocal()
}

func (l *Limiter) tryAcquireKV(ctx context.Context) (*Token, error) {
	n, err := l.kv.AddInt(ctx, l.counterKey, 1)
	if err != nil {
		return nil, errors.WrapTransient(err,
			"Limiter", "tryAcquireKV", "increment shared counter")
	}
	if n > l.ceiling {
		// Over budget: undo the increment and report full. The
		// rollback gets its own context so cancellation cannot leak
		// the phantom slot.
		rollbackCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if _, rbErr := l.kv.AddInt(rollbackCtx, l.counterKey, -1); rbErr != nil {
			l.logger.Error("failed to roll back over-budget increment",
				"key", l.counterKey, "error", rbErr)
		}
		return nil, errBudgetFull
	}
	return &Token{release: func() { l.releaseKV() }}, nil
}

func (l *Limiter) tryAcquireLocal() (*Token, error) {
	if !l.sem.TryAcquire(1) {
		return nil, errBudgetFull
	}
	return &Token{release: func() { l.releaseLocal() }}, nil
}

func (l *Limiter) releaseKV() {
	l.slotFreed()
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := l.kv.AddInt(ctx, l.counterKey, -1); err != nil {
		// The slot stays counted until the bucket TTL ages it out.
		l.logger.Error("failed to release shared search slot",
			"key", l.counterKey, "error", err)
		l.degrade(err)
	}
}

func (l *Limiter) releaseLocal() {
	l.slotFreed()
	l.sem.Release(1)
}

func (l *Limiter) granted() {
	held := l.held.Add(1)
	if l.metrics != nil {
		l.metrics.AdmissionGranted.Inc()
		l.metrics.AdmissionSlotsInUse.Set(float64(held))
	}
}

func (l *Limiter) slotFreed() {
	held := l.held.Add(-1)
	if held < 0 {
		// Token.Release idempotence should make this unreachable.
		l.held.Store(0)
		held = 0
	}
	if l.metrics != nil {
		l.metrics.AdmissionSlotsInUse.Set(float64(held))
	}
}

func (l *Limiter) countRetry() {
	if l.metrics != nil {
		l.metrics.AdmissionRetries.Inc()
	}
}

// Mode reports the enforcement scope currently in effect.
func (l *Limiter) Mode() Mode {
	if l.useKV() {
		return ModeDistributed
	}
	return ModeLocal
}

// Ceiling returns the configured budget.
func (l *Limiter) Ceiling() int { return int(l.ceiling) }

// Outstanding returns the slots this process currently holds.
func (l *Limiter) Outstanding() int64 { return l.held.Load() }

// useKV reports whether the shared counter should serve this attempt,
// re-probing it after the cooldown has passed since the last failure.
func (l *Limiter) useKV() bool {
	if l.kv == nil {
		return false
	}
	if l.kvHealthy.Load() {
		return true
	}
	last := l.lastKVFailure.Load()
	if time.Since(time.Unix(0, last)) >= kvRetryCooldown {
		l.kvHealthy.Store(true)
		l.logger.Info("probing shared limiter counter after cooldown",
			"key", l.counterKey)
		return true
	}
	return false
}

func (l *Limiter) degrade(err error) {
	l.lastKVFailure.Store(time.Now().UnixNano())
	if l.kvHealthy.Swap(false) {
		l.logger.Warn("shared limiter counter unavailable, enforcing locally",
			"key", l.counterKey, "ceiling", l.ceiling, "error", err)
	}
}
