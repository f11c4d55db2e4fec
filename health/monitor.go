package health

import (
	"sort"
	"sync"
	"time"

	"github.com/elis-salobehaj/log-ai/metric"
)

// Monitor tracks component statuses concurrently and mirrors them into
// the health gauge when metrics are attached.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	metrics  *metric.Metrics
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMetrics mirrors status changes into the per-component health
// gauge (1 healthy, 0.5 degraded, 0 unhealthy).
func WithMetrics(m *metric.Metrics) MonitorOption {
	return func(mon *Monitor) { mon.metrics = m }
}

// NewMonitor builds an empty monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{statuses: make(map[string]Status)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update records the status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status

	if m.metrics != nil {
		m.metrics.HealthCheckStatus.WithLabelValues(name).Set(gaugeValue(status))
	}
}

// UpdateHealthy marks a component healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded marks a component degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy marks a component unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Get returns a component's status.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Aggregate folds every tracked component into one system status, with
// sub-statuses in component name order.
func (m *Monitor) Aggregate(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		subs = append(subs, m.statuses[name])
	}
	return Aggregate(systemName, subs)
}

// Remove drops a component from tracking.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	if m.metrics != nil {
		m.metrics.HealthCheckStatus.DeleteLabelValues(name)
	}
}

// Count returns the number of tracked components.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

func gaugeValue(s Status) float64 {
	switch s.Status {
	case StateHealthy:
		return 1
	case StateDegraded:
		return 0.5
	default:
		return 0
	}
}
