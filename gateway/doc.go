/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package gateway implements the request orchestration layer that storefront
// calls to the remote API gateway pass through: a global concurrency gate with
// FIFO queuing, a resilient executor with retries and exponential backoff,
// a priority bypass for latency-critical targets, an auto-batching collector
// for high-fan-out lookups, and a deduplicating TTL response cache.
//
// The package is transport-agnostic: it moves a bounded number of in-flight
// operations safely and resiliently without interpreting targets or bodies.
package gateway
