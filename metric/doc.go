// Package metric manages Prometheus metric registration for the log search
// engine. It owns a private Prometheus registry pre-populated with the core
// engine metrics (search lifecycle, admission, matcher subprocesses, NATS
// backend health) and lets components register their own metrics under a
// component prefix via the MetricsRegistrar interface.
package metric
