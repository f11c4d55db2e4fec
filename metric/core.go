package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not component-specific)
type Metrics struct {
	// Search lifecycle metrics
	SearchesActive  prometheus.Gauge
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  *prometheus.HistogramVec
	LinesScanned    prometheus.Counter
	MatchesEmitted  prometheus.Counter
	PartialResults  prometheus.Counter
	OverflowSpills  prometheus.Counter
	OverflowBytes   prometheus.Counter

	// Admission metrics
	AdmissionSlotsInUse prometheus.Gauge
	AdmissionGranted    prometheus.Counter
	AdmissionRejected   prometheus.Counter
	AdmissionRetries    prometheus.Counter

	// Matcher subprocess metrics
	MatcherProcesses prometheus.Gauge
	MatcherExits     *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsReaped prometheus.Counter

	// Health metrics
	HealthCheckStatus *prometheus.GaugeVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SearchesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "active",
				Help:      "Number of searches currently executing",
			},
		),

		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "total",
				Help:      "Total number of searches by terminal status",
			},
			[]string{"status"},
		),

		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Search wall-clock duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		LinesScanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "lines_scanned_total",
				Help:      "Total log lines scanned across all searches",
			},
		),

		MatchesEmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "matches_total",
				Help:      "Total match records emitted",
			},
		),

		PartialResults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "search",
				Name:      "partial_results_total",
				Help:      "Searches that ended with partial results preserved",
			},
		),

		OverflowSpills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "sink",
				Name:      "overflow_spills_total",
				Help:      "Result sets that overflowed the preview buffer to disk",
			},
		),

		OverflowBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "sink",
				Name:      "overflow_bytes_total",
				Help:      "Bytes written to overflow artifacts",
			},
		),

		AdmissionSlotsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "admission",
				Name:      "slots_in_use",
				Help:      "Global search slots currently held by this process",
			},
		),

		AdmissionGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "admission",
				Name:      "granted_total",
				Help:      "Admission requests granted",
			},
		),

		AdmissionRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "admission",
				Name:      "rejected_total",
				Help:      "Admission requests rejected after retry exhaustion",
			},
		),

		AdmissionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "admission",
				Name:      "retries_total",
				Help:      "Admission attempts that found the limiter saturated",
			},
		),

		MatcherProcesses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "matcher",
				Name:      "processes",
				Help:      "Matcher subprocesses currently running",
			},
		),

		MatcherExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "matcher",
				Name:      "exits_total",
				Help:      "Matcher subprocess exits by classification",
			},
			[]string{"class"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "session",
				Name:      "active",
				Help:      "Scratch session namespaces currently on disk",
			},
		),

		SessionsReaped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "session",
				Name:      "reaped_total",
				Help:      "Session namespaces removed by the retention reaper",
			},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "logai",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "logai",
				Subsystem: "nats",
				Name:      "circuit_breaker_open",
				Help:      "NATS circuit breaker state (0=closed, 1=open)",
			},
		),
	}
}
