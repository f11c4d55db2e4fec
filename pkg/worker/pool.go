// Package worker provides a generic bounded worker pool for background
// task processing. The engine uses it for best-effort delivery work such
// as usage reporting, where a full queue drops the item rather than
// blocking a search.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/elis-salobehaj/log-ai/errors"
	"github.com/elis-salobehaj/log-ai/metric"
)

// Handler processes a single queued item. A non-nil error marks the item
// failed in the pool statistics; the item is never retried by the pool.
type Handler[T any] func(context.Context, T) error

// Pool is a fixed-size worker pool with a bounded queue and drop-on-full
// submission semantics.
type Pool[T any] struct {
	workers   int
	queueSize int
	handler   Handler[T]

	queue   chan T
	metrics *poolMetrics
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registry *metric.MetricsRegistry
	name     string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	processed  prometheus.Counter
	failed     prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers pool metrics with the engine registry under the
// given pool name.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(p *Pool[T]) {
		p.registry = registry
		p.name = name
	}
}

// NewPool creates a worker pool. Zero or negative sizes fall back to
// defaults of 4 workers and a queue of 256.
func NewPool[T any](workers, queueSize int, handler Handler[T], opts ...Option[T]) (*Pool[T], error) {
	if handler == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil handler"),
			"Pool", "NewPool", "handler is required")
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		handler:   handler,
		queue:     make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.registry != nil && p.name != "" {
		if err := p.registerMetrics(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pool[T]) registerMetrics() error {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logai", Subsystem: "pool",
			Name: p.name + "_queue_depth",
			Help: "Current queue depth of the " + p.name + " pool",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "pool",
			Name: p.name + "_submitted_total",
			Help: "Items submitted to the " + p.name + " pool",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "pool",
			Name: p.name + "_processed_total",
			Help: "Items processed by the " + p.name + " pool",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "pool",
			Name: p.name + "_failed_total",
			Help: "Items whose handler returned an error",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "pool",
			Name: p.name + "_dropped_total",
			Help: "Items dropped because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "logai", Subsystem: "pool",
			Name:    p.name + "_duration_seconds",
			Help:    "Handler duration for the " + p.name + " pool",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),
	}

	component := "pool_" + p.name
	registrations := []struct {
		suffix string
		err    error
	}{
		{"queue_depth", p.registry.RegisterGauge(component, "queue_depth", m.queueDepth)},
		{"submitted_total", p.registry.RegisterCounter(component, "submitted_total", m.submitted)},
		{"processed_total", p.registry.RegisterCounter(component, "processed_total", m.processed)},
		{"failed_total", p.registry.RegisterCounter(component, "failed_total", m.failed)},
		{"dropped_total", p.registry.RegisterCounter(component, "dropped_total", m.dropped)},
		{"duration_seconds", p.registry.RegisterHistogramVec(component, "duration_seconds", m.duration)},
	}
	for _, reg := range registrations {
		if reg.err != nil {
			return errors.Wrap(reg.err, "Pool", "registerMetrics",
				fmt.Sprintf("register %s metric", reg.suffix))
		}
	}

	p.metrics = m
	return nil
}

// Start launches the workers. Workers exit when the context is cancelled
// or the queue is closed by Stop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pool", "Start", "pool already running")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Submit enqueues an item without blocking. A full queue drops the item
// and returns a saturation error.
func (p *Pool[T]) Submit(item T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return errors.WrapInvalid(errors.ErrNotStarted, "Pool", "Submit", "pool not started")
	}
	if p.stopped {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Pool", "Submit", "pool stopped")
	}

	select {
	case p.queue <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return errors.WrapTransient(errors.ErrSaturated, "Pool", "Submit", "queue full, item dropped")
	}
}

// Stop closes the queue and waits up to timeout for in-flight items to
// drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return errors.WrapTransient(
			fmt.Errorf("drain exceeded %s", timeout),
			"Pool", "Stop", "workers did not finish in time")
	}
}

// Stats reports a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}

			start := time.Now()
			err := p.handler(ctx, item)
			elapsed := time.Since(start)

			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}

			if p.metrics != nil {
				p.metrics.processed.Inc()
				p.metrics.queueDepth.Set(float64(len(p.queue)))
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.duration.WithLabelValues(status).Observe(elapsed.Seconds())
			}
		}
	}
}
