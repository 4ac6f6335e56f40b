/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cartlabs/go-gatewaykit/log"
)

// BatchLookupFunc performs one combined multi-key operation. The returned map
// holds values for the keys that were found; missing keys are reported to the
// callers as an explicit not-found outcome. The func is typically routed
// through Client.Execute so the combined call obeys the gate and retries.
type BatchLookupFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// batcherState is the collector's authoritative state machine.
type batcherState int

const (
	batcherIdle batcherState = iota
	batcherCollecting
)

type batchOutcome[V any] struct {
	value V
	found bool
	err   error
}

// Batcher accumulates single-key lookups issued within a short time window
// (or until a size threshold) and dispatches them as one combined operation,
// fanning the result back out to each original caller. One Batcher is
// constructed per resource type.
type Batcher[K comparable, V any] struct {
	lookup  BatchLookupFunc[K, V]
	window  time.Duration
	maxSize int

	mu      sync.Mutex
	state   batcherState
	order   []K
	waiters map[K][]chan batchOutcome[V]
	timer   *time.Timer
	gen     uint64 // incremented on every flush to invalidate a raced timer

	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// BatcherOpts represents options for NewBatcherWithOpts.
type BatcherOpts struct {
	// Window is the time interval during which lookups are collected
	// before being dispatched. DefaultBatchWindow is used if it's not positive.
	Window time.Duration

	// MaxSize is the number of distinct keys that triggers an immediate flush.
	// DefaultBatchMaxSize is used if it's not positive.
	MaxSize int

	// Logger is used for logging flush failures.
	Logger log.FieldLogger

	// MetricsCollector observes flush sizes. It can be nil.
	MetricsCollector MetricsCollector
}

// NewBatcher creates a Batcher for the given client using its configured
// window and size threshold.
func NewBatcher[K comparable, V any](client *Client, lookup BatchLookupFunc[K, V]) (*Batcher[K, V], error) {
	return NewBatcherWithOpts(lookup, BatcherOpts{
		Window:           client.batchCfg.Window,
		MaxSize:          client.batchCfg.MaxSize,
		Logger:           client.logger,
		MetricsCollector: client.metricsCollector,
	})
}

// NewBatcherWithOpts creates a Batcher with the provided options.
func NewBatcherWithOpts[K comparable, V any](lookup BatchLookupFunc[K, V], opts BatcherOpts) (*Batcher[K, V], error) {
	if lookup == nil {
		return nil, errors.New("lookup func is required")
	}
	if opts.Window <= 0 {
		opts.Window = DefaultBatchWindow
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultBatchMaxSize
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}
	return &Batcher[K, V]{
		lookup:           lookup,
		window:           opts.Window,
		maxSize:          opts.MaxSize,
		waiters:          make(map[K][]chan batchOutcome[V]),
		logger:           opts.Logger,
		metricsCollector: opts.MetricsCollector,
	}, nil
}

// Lookup enqueues a single-key lookup and blocks until the batch it joined is
// flushed. It reports the value, whether the key was found, and the batch's
// error if the combined operation failed. A caller whose context expires
// before the flush detaches with a Cancelled error; the batch itself is not
// affected.
func (b *Batcher[K, V]) Lookup(ctx context.Context, key K) (value V, found bool, err error) {
	outcomeCh := make(chan batchOutcome[V], 1)

	b.mu.Lock()
	if _, pending := b.waiters[key]; !pending {
		b.order = append(b.order, key)
	}
	b.waiters[key] = append(b.waiters[key], outcomeCh)

	if b.state == batcherIdle {
		b.state = batcherCollecting
		gen := b.gen
		b.timer = time.AfterFunc(b.window, func() {
			b.flushByTimer(gen)
		})
	}

	if len(b.order) >= b.maxSize {
		// Size threshold reached: cancel the timer and flush immediately.
		keys, waiters := b.takeBatchLocked()
		b.mu.Unlock()
		go b.flush(keys, waiters)
	} else {
		b.mu.Unlock()
	}

	select {
	case outcome := <-outcomeCh:
		return outcome.value, outcome.found, outcome.err
	case <-ctx.Done():
		return value, false, newContextError(fmt.Sprintf("batch lookup %v", key), ctx.Err())
	}
}

// flushByTimer flushes the batch the timer was armed for. A timer that lost
// the race with a size-threshold flush finds a newer generation and backs off.
func (b *Batcher[K, V]) flushByTimer(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	keys, waiters := b.takeBatchLocked()
	b.mu.Unlock()
	b.flush(keys, waiters)
}

func (b *Batcher[K, V]) takeBatchLocked() ([]K, map[K][]chan batchOutcome[V]) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	keys, waiters := b.order, b.waiters
	b.order = nil
	b.waiters = make(map[K][]chan batchOutcome[V])
	b.state = batcherIdle
	return keys, waiters
}

// flush issues the combined operation and settles every waiting caller
// exactly once: with a value, an explicit not-found outcome, or the batch's error.
func (b *Batcher[K, V]) flush(keys []K, waiters map[K][]chan batchOutcome[V]) {
	if len(keys) == 0 {
		return
	}
	b.metricsCollector.ObserveBatchFlush(len(keys))

	results, err := b.lookup(context.Background(), keys)
	if err != nil {
		b.logger.Warn("batch lookup failed",
			log.Int("keys", len(keys)), log.Error(err))
	}

	for _, key := range keys {
		outcome := batchOutcome[V]{err: err}
		if err == nil {
			outcome.value, outcome.found = results[key]
			outcome.err = nil
		}
		for _, ch := range waiters[key] {
			ch <- outcome
		}
	}
}
