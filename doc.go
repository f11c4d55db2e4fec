// Package logai is a coordination engine for concurrent log search:
// it resolves human service names to on-disk log files, fans bounded
// grep scans out across services, and streams matches back with a
// global admission ceiling, a shared result cache, and overflow
// artifacts for result sets too large to hold in memory.
//
// # Architecture
//
// A search request flows through a fixed pipeline:
//
//	┌──────────────────────────────────────┐
//	│            Gateway                   │  HTTP + WebSocket API,
//	│  (/api/search, /api/search/ws)       │  health, metrics
//	└──────────────────────────────────────┘
//	           ↓ one call per request
//	┌──────────────────────────────────────┐
//	│            Engine                    │  resolve → cache check →
//	│  (admission, cache, diagnostics)     │  admit → scan → collect
//	└──────────────────────────────────────┘
//	           ↓ fans out per service
//	┌──────────────────────────────────────┐
//	│           Executor                   │  bounded goroutines,
//	│   (matcher subprocesses, timeouts)   │  wall-clock deadline
//	└──────────────────────────────────────┘
//
// # Packages
//
// Request path:
//   - gateway: HTTP/WebSocket API, request IDs, error mapping
//   - engine: per-request orchestration and diagnostics
//   - search: concurrent scan execution with bounded parallelism
//   - matcher: grep subprocess wrapper and output parsing
//   - sink: preview collection and overflow artifact spill
//
// Shared state:
//   - registry: services YAML with fsnotify hot reload
//   - resolver: fuzzy service name resolution and suggestions
//   - timewindow: time range resolution and log path enumeration
//   - searchcache: fingerprint-keyed result cache (local + NATS KV)
//   - limiter: global admission ceiling (NATS KV counter with
//     process-local fallback)
//   - session: dated artifact namespaces with retention sweeps
//   - insight: per-service pattern rules over matched lines
//
// Infrastructure:
//   - natsclient: NATS connection and KV store management
//   - config: JSON configuration with env overrides
//   - metric: Prometheus metrics
//   - errors: classified error handling
//   - health: component health aggregation
//   - report: asynchronous performance and failure reporting
//   - pkg/cache: bounded in-process cache
//   - pkg/retry: retry policies
//   - pkg/worker: worker pools
//
// # Degradation
//
// The engine never fails a search because shared infrastructure is
// down. The cache and the limiter each fall back to process-local
// operation when the NATS KV backend is unreachable, re-probing it
// after a cooldown; matcher crashes and wall-clock expiry surface as
// partial results with diagnostics rather than errors.
//
// # Binary
//
// Build and run:
//
//	go build -o bin/logai ./cmd/logai
//	./bin/logai --config configs/logai.json
//
// Without a config file the binary runs on built-in defaults:
// process-local admission and caching, serving on :8080.
package logai
