package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())

	// Core metrics must be gatherable without conflicts.
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logai",
		Subsystem: "testcomp",
		Name:      "ops_total",
		Help:      "test counter",
	})

	err := registry.RegisterCounter("testcomp", "ops_total", counter)
	require.NoError(t, err)

	// Same key twice is rejected as invalid.
	err = registry.RegisterCounter("testcomp", "ops_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterSameNameDifferentComponent(t *testing.T) {
	registry := NewMetricsRegistry()

	a := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "logai", Subsystem: "compa", Name: "depth", Help: "test",
	})
	b := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "logai", Subsystem: "compb", Name: "depth", Help: "test",
	})

	require.NoError(t, registry.RegisterGauge("compa", "depth", a))
	require.NoError(t, registry.RegisterGauge("compb", "depth", b))
}

func TestPrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	// Same fully-qualified prometheus name under two registry keys
	// trips the prometheus duplicate check, not ours.
	first := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logai", Subsystem: "dup", Name: "hits_total", Help: "test",
	})
	second := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "logai", Subsystem: "dup", Name: "hits_total", Help: "test",
	})

	require.NoError(t, registry.RegisterCounter("one", "hits_total", first))
	err := registry.RegisterCounter("two", "hits_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logai", Subsystem: "vec", Name: "events_total", Help: "test",
	}, []string{"kind"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "logai", Subsystem: "vec", Name: "level", Help: "test",
	}, []string{"kind"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logai", Subsystem: "vec", Name: "latency_seconds", Help: "test",
	}, []string{"kind"})

	require.NoError(t, registry.RegisterCounterVec("vec", "events_total", cv))
	require.NoError(t, registry.RegisterGaugeVec("vec", "level", gv))
	require.NoError(t, registry.RegisterHistogramVec("vec", "latency_seconds", hv))

	cv.WithLabelValues("scan").Inc()
	gv.WithLabelValues("scan").Set(3)
	hv.WithLabelValues("scan").Observe(0.25)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logai", Subsystem: "unreg", Name: "work_seconds", Help: "test",
	})

	require.NoError(t, registry.RegisterHistogram("unreg", "work_seconds", histogram))
	assert.True(t, registry.Unregister("unreg", "work_seconds"))
	assert.False(t, registry.Unregister("unreg", "work_seconds"))

	// Re-registration after unregister succeeds.
	require.NoError(t, registry.RegisterHistogram("unreg", "work_seconds", histogram))
}

func TestRegistrarInterface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()
	assert.NotNil(t, registrar)
}
