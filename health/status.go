// Package health tracks component health for the engine: the NATS
// connection, the cache backend mode, the limiter mode, and anything
// else that degrades rather than fails. Three states are enough:
// healthy, degraded (reduced function, e.g. a cache running
// process-local), and unhealthy.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Error message sanitization patterns. Health output crosses trust
// boundaries (the /healthz endpoint), so raw errors are scrubbed of
// endpoints, paths and credentials first.
var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex      = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health state of one component, or an aggregate.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports the healthy state.
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded reports the degraded state.
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy reports the unhealthy state.
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// Health states.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StateHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status.
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status with the error message
// sanitized.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StateUnhealthy,
		Message:   SanitizeMessage(message),
		Timestamp: time.Now(),
	}
}

// Aggregate folds component statuses into one system status: any
// unhealthy makes the system unhealthy, otherwise any degraded makes
// it degraded.
func Aggregate(systemName string, statuses []Status) Status {
	state := StateHealthy
	message := "All components healthy"
	for _, s := range statuses {
		if s.IsUnhealthy() {
			state = StateUnhealthy
			message = s.Component + " unhealthy"
			break
		}
		if s.IsDegraded() && state == StateHealthy {
			state = StateDegraded
			message = s.Component + " degraded"
		}
	}
	return Status{
		Component:   systemName,
		Healthy:     state == StateHealthy,
		Status:      state,
		Message:     message,
		Timestamp:   time.Now(),
		SubStatuses: statuses,
	}
}

// SanitizeMessage scrubs endpoints, file paths, IPs, ports and
// credential fragments from a message bound for health output.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	s := msg
	s = httpURLRegex.ReplaceAllString(s, "[URL]")
	s = natsURLRegex.ReplaceAllString(s, "[URL]")
	s = wsURLRegex.ReplaceAllString(s, "[URL]")
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")

	lower := strings.ToLower(s)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		s = credentialRegex.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
