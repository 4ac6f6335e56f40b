/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
)

// ConcurrencyGate bounds the number of simultaneous outbound operations.
// Callers that find the gate saturated block in Acquire until a slot is
// released or their context expires. Blocked callers are woken in FIFO order,
// and a released slot is handed to the next waiter directly, so the active
// count never drops below the limit while somebody is waiting.
type ConcurrencyGate struct {
	slots    chan struct{}
	limit    int
	inFlight atomic.Int64
	waiting  atomic.Int64

	metricsCollector MetricsCollector
}

// NewConcurrencyGate creates a new ConcurrencyGate with the provided concurrency limit.
func NewConcurrencyGate(limit int, mc MetricsCollector) (*ConcurrencyGate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("concurrency limit should be positive, got %d", limit)
	}
	if mc == nil {
		mc = disabledMetrics{}
	}
	return &ConcurrencyGate{
		slots:            make(chan struct{}, limit),
		limit:            limit,
		metricsCollector: mc,
	}, nil
}

// Acquire obtains a slot, blocking while the gate is saturated.
// A caller whose context expires while waiting consumes no slot and fails
// with a Cancelled (or Timeout) OperationError.
func (g *ConcurrencyGate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		g.inFlight.Inc()
		g.metricsCollector.IncInFlight()
		return nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return newContextError("", err)
	}

	g.waiting.Inc()
	g.metricsCollector.IncWaiting()
	defer func() {
		g.waiting.Dec()
		g.metricsCollector.DecWaiting()
	}()

	select {
	case g.slots <- struct{}{}:
		g.inFlight.Inc()
		g.metricsCollector.IncInFlight()
		return nil
	case <-ctx.Done():
		return newContextError("", ctx.Err())
	}
}

// TryAcquire obtains a slot without blocking. It reports whether a slot was obtained.
func (g *ConcurrencyGate) TryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		g.inFlight.Inc()
		g.metricsCollector.IncInFlight()
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot, waking the next waiter if any.
func (g *ConcurrencyGate) Release() {
	select {
	case <-g.slots:
		g.inFlight.Dec()
		g.metricsCollector.DecInFlight()
	default:
		panic("gateway: Release called without a matching Acquire")
	}
}

// Limit returns the configured concurrency limit.
func (g *ConcurrencyGate) Limit() int {
	return g.limit
}

// InFlight returns the number of currently held slots.
func (g *ConcurrencyGate) InFlight() int {
	return int(g.inFlight.Load())
}

// Waiting returns the number of callers currently blocked in Acquire.
func (g *ConcurrencyGate) Waiting() int {
	return int(g.waiting.Load())
}
