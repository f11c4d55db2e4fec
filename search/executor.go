package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/matcher"
	"github.com/elis-salobehaj/log-ai/metric"
	"github.com/elis-salobehaj/log-ai/registry"
	"github.com/elis-salobehaj/log-ai/timewindow"
)

const (
	// DefaultPerRequestLimit bounds parallel per-service scans inside
	// one search. The fleet-wide budget is the limiter's job.
	DefaultPerRequestLimit = 4

	// DefaultWallClock is the hard ceiling for one scan, measured from
	// the moment scanning starts.
	DefaultWallClock = 2 * time.Minute

	// progressFreeEmits is how many early progress updates bypass the
	// rate limiter so interactive clients see life immediately.
	progressFreeEmits = 10

	// progressMinInterval is the floor between progress updates even
	// while they are free.
	progressMinInterval = 100 * time.Millisecond

	// progressRate is the steady-state updates-per-second once match
	// volume is high.
	progressRate = 2
)

// Executor runs resolved queries through a Matcher.
type Executor struct {
	matcher   matcher.Matcher
	perReq    int
	wallClock time.Duration
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithPerRequestLimit sets how many services scan in parallel within
// one search.
func WithPerRequestLimit(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.perReq = n
		}
	}
}

// WithWallClock sets the hard scan ceiling.
func WithWallClock(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.wallClock = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics wires the search and matcher metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor builds an executor around the given matcher.
func NewExecutor(m matcher.Matcher, opts ...Option) (*Executor, error) {
	if m == nil {
		return nil, errors.WrapInvalid(errors.New("matcher is required"),
			"Executor", "NewExecutor", "validate matcher")
	}
	e := &Executor{
		matcher:   m,
		perReq:    DefaultPerRequestLimit,
		wallClock: DefaultWallClock,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs the query. Input problems return an error before any
// scanning starts; once scanning has begun, timeouts and matcher
// crashes return nil with Diagnostics.Partial set and every collected
// match already delivered through emit. onProgress may be nil.
func (e *Executor) Execute(ctx context.Context, q Query, emit func(MatchRecord), onProgress func(Progress)) (Diagnostics, error) {
	if q.Pattern == "" {
		return Diagnostics{}, errors.WrapInvalid(errors.ErrEmptyPattern,
			"Executor", "Execute", "validate pattern")
	}
	if len(q.Services) == 0 {
		return Diagnostics{}, errors.WrapInvalid(errors.ErrServiceNotFound,
			"Executor", "Execute", "validate services")
	}
	if emit == nil {
		emit = func(MatchRecord) {}
	}

	start := time.Now()
	if e.metrics != nil {
		e.metrics.SearchesActive.Inc()
		defer e.metrics.SearchesActive.Dec()
	}

	run := &execution{
		exec:       e,
		query:      q,
		emit:       emit,
		onProgress: onProgress,
		start:      start,
		perService: make(map[string]int, len(q.Services)),
		limiter:    rate.NewLimiter(rate.Limit(progressRate), 1),
	}

	scanCtx, cancel := context.WithTimeout(ctx, e.wallClock)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(e.perReq)
	for i := range q.Services {
		svc := q.Services[i]
		g.Go(func() error {
			run.scanService(scanCtx, &svc)
			return nil
		})
	}
	// Goroutines never return errors; failures accumulate in run.
	_ = g.Wait()

	diag := run.finish(scanCtx)
	diag.Elapsed = time.Since(start)

	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(string(diag.State)).Inc()
		e.metrics.SearchDuration.WithLabelValues(string(diag.State)).Observe(diag.Elapsed.Seconds())
		if diag.Partial {
			e.metrics.PartialResults.Inc()
		}
	}
	e.logger.Info("search finished",
		"state", diag.State,
		"partial", diag.Partial,
		"matches", run.matches,
		"files", diag.FilesScanned,
		"elapsed", diag.Elapsed)
	return diag, nil
}

// execution is the per-call mutable state, serialized by mu so emitted
// records keep a coherent arrival order.
type execution struct {
	exec       *Executor
	query      Query
	emit       func(MatchRecord)
	onProgress func(Progress)
	start      time.Time
	limiter    *rate.Limiter

	mu           sync.Mutex
	matches      int
	done         int
	filesScanned int
	perService   map[string]int
	failures     []string
	crashed      bool
	lastProgress time.Time
	sentFree     int
}

func (x *execution) scanService(ctx context.Context, svc *registry.ServiceDefinition) {
	files, err := timewindow.EnumeratePaths(svc, x.query.Window)
	if err != nil {
		x.recordFailure(svc.Name, err, false)
		return
	}

	x.mu.Lock()
	x.filesScanned += len(files)
	x.mu.Unlock()

	if x.exec.metrics != nil {
		x.exec.metrics.MatcherProcesses.Inc()
		defer x.exec.metrics.MatcherProcesses.Dec()
	}

	err = x.exec.matcher.Search(ctx, x.query.Pattern, files, func(rec MatchRecord) {
		rec.Service = svc.Name
		x.record(rec)
	})

	switch {
	case err == nil:
		x.countExit("ok")
		x.serviceDone()
	case ctx.Err() != nil:
		x.countExit("cancelled")
		x.recordFailure(svc.Name, ctx.Err(), false)
	default:
		x.countExit("crash")
		x.recordFailure(svc.Name, err, true)
	}
}

func (x *execution) record(rec MatchRecord) {
	x.mu.Lock()
	x.matches++
	x.perService[rec.Service]++
	total := x.matches
	// The sink is single-writer: emits stay inside the critical section
	// so parallel scans cannot interleave into the collector.
	x.emit(rec)
	x.mu.Unlock()

	if x.exec.metrics != nil {
		x.exec.metrics.MatchesEmitted.Inc()
	}
	x.maybeProgress(total)
}

func (x *execution) serviceDone() {
	x.mu.Lock()
	x.done++
	total := x.matches
	x.mu.Unlock()
	x.maybeProgress(total)
}

func (x *execution) recordFailure(service string, err error, crash bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.done++
	x.failures = append(x.failures, fmt.Sprintf("%s: %v", service, err))
	if crash {
		x.crashed = true
	}
}

// maybeProgress forwards a progress snapshot, freely at first and
// rate-limited once the stream is busy.
func (x *execution) maybeProgress(total int) {
	if x.onProgress == nil {
		return
	}

	x.mu.Lock()
	now := time.Now()
	if now.Sub(x.lastProgress) < progressMinInterval {
		x.mu.Unlock()
		return
	}
	if x.sentFree < progressFreeEmits {
		x.sentFree++
	} else if !x.limiter.Allow() {
		x.mu.Unlock()
		return
	}
	x.lastProgress = now
	done := x.done
	x.mu.Unlock()

	x.onProgress(Progress{
		Matches:      total,
		ServicesDone: done,
		ServiceCount: len(x.query.Services),
		Elapsed:      time.Since(x.start),
	})
}

func (x *execution) finish(scanCtx context.Context) Diagnostics {
	x.mu.Lock()
	defer x.mu.Unlock()

	diag := Diagnostics{
		State:        StateCompleted,
		PerService:   x.perService,
		FilesScanned: x.filesScanned,
		Failures:     x.failures,
	}
	switch {
	case errors.Is(scanCtx.Err(), context.DeadlineExceeded):
		diag.State = StateTimedOut
		diag.Partial = true
	case scanCtx.Err() != nil:
		// The caller went away; the budget did not expire.
		diag.State = StateCancelled
		diag.Partial = true
	case x.crashed:
		diag.State = StateCrashed
		diag.Partial = true
	case len(x.failures) > 0:
		// Non-crash per-service failures (bad path templates) leave
		// the search complete but flagged partial.
		diag.Partial = true
	}
	return diag
}

func (x *execution) countExit(class string) {
	if x.exec.metrics != nil {
		x.exec.metrics.MatcherExits.WithLabelValues(class).Inc()
	}
}
