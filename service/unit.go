/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package service manages the lifecycle of long-running background components,
// such as the periodic cleanup of the gateway response cache.
package service

// Unit represents a component with its own lifecycle that can be started and stopped.
type Unit interface {
	// Start begins the unit's operation.
	//
	// An implementation may perform initialization and return immediately,
	// or block the calling goroutine for the duration of the unit's lifetime.
	// If Start succeeds, it must not write anything to the provided error channel,
	// and the channel must not be used after Start has returned.
	Start(fatalErr chan<- error)

	// Stop halts the unit. If gracefully is true, the unit should attempt a clean
	// shutdown. Stop may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is an interface for units that can register their own metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics()
	UnregisterMetrics()
}
