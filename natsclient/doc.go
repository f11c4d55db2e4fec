// Package natsclient manages the NATS connection that backs the engine's
// shared state: the cross-process admission counter and the distributed
// result cache, both held in JetStream key-value buckets.
//
// The client wraps connection lifecycle with a circuit breaker so that a
// flapping NATS server degrades the engine to process-local coordination
// instead of stalling searches. KVStore layers compare-and-swap updates
// with retry on top of a bucket, which is what the admission counter
// needs to stay accurate under contention from multiple engine processes.
package natsclient
