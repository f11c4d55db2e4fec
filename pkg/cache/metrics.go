package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elis-salobehaj/log-ai/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter

	size  prometheus.Gauge
	bytes prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "cache", Name: "hits_total",
			ConstLabels: labels, Help: "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "cache", Name: "misses_total",
			ConstLabels: labels, Help: "Total number of cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "cache", Name: "sets_total",
			ConstLabels: labels, Help: "Total number of cache set operations",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "cache", Name: "deletes_total",
			ConstLabels: labels, Help: "Total number of cache delete operations",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logai", Subsystem: "cache", Name: "evictions_total",
			ConstLabels: labels, Help: "Total number of cache evictions",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logai", Subsystem: "cache", Name: "entries",
			ConstLabels: labels, Help: "Current number of entries in cache",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logai", Subsystem: "cache", Name: "payload_bytes",
			ConstLabels: labels, Help: "Aggregate payload bytes held in cache",
		}),
	}

	for name, collector := range map[string]prometheus.Collector{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	} {
		if err := registry.RegisterCounter(prefix, name, collector.(prometheus.Counter)); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_entries", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_payload_bytes", m.bytes); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }
func (m *cacheMetrics) updateSize(n int) {
	m.size.Set(float64(n))
}
func (m *cacheMetrics) updateBytes(n int64) {
	m.bytes.Set(float64(n))
}
