/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

// Package retry provides backoff policies and a helper for retrying operations.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable defines a func that can tell if error is retryable as opposed to persistent.
type IsRetryable func(error) bool

// RetryableFunc is function that does some work and can be potentially retried.
type RetryableFunc func(ctx context.Context) error

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// DoWithRetry executes fn with retry according to policy p and with respect to context ctx.
// IsRetryable defines which errors lead to retry attempt (can be nil for any error).
// Notify can be used to receive notification on every retry with error and backoff delay
// (can be nil if no notifications required).
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	b := p.NewBackOff()
	bctx := backoff.WithContext(b, ctx)
	var op backoff.Operation = func() error {
		err := fn(bctx.Context())
		if err != nil &&
			(isRetryable != nil && !isRetryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, bctx, notify)
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// Default parameter values for ExponentialBackoffPolicy.
const (
	DefaultExponentialBackoffInitialInterval = 900 * time.Millisecond
	DefaultExponentialBackoffMultiplier      = 2
	DefaultExponentialBackoffMaxInterval     = 4 * time.Second

	// DefaultExponentialBackoffRandomizationFactor spreads each delay
	// in the [delay*(1-f), delay*(1+f)] interval (jitter).
	DefaultExponentialBackoffRandomizationFactor = 0.4
)

// ExponentialBackoffOpts represents options for ExponentialBackoffPolicy.
type ExponentialBackoffOpts struct {
	// Multiplier is a factor by which the delay grows on each retry attempt.
	// DefaultExponentialBackoffMultiplier is used if it's not positive.
	Multiplier float64

	// MaxInterval caps a single delay (after randomization).
	// DefaultExponentialBackoffMaxInterval is used if it's not positive.
	MaxInterval time.Duration

	// RandomizationFactor defines the jitter applied to each delay.
	// DefaultExponentialBackoffRandomizationFactor is used if it's not positive,
	// so every constructed policy carries jitter and concurrent processes never
	// retry on the identical schedule.
	RandomizationFactor float64
}

// ExponentialBackoffPolicy means repeat up to max times with exponentially growing delays.
type ExponentialBackoffPolicy struct {
	initialInterval time.Duration
	maxAttempts     int
	opts            ExponentialBackoffOpts
}

// NewExponentialBackoffPolicy returns an exponential backoff policy with given initial interval
// and max retry attempt count.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return NewExponentialBackoffPolicyWithOpts(initialInterval, maxRetryAttempts, ExponentialBackoffOpts{})
}

// NewExponentialBackoffPolicyWithOpts returns an exponential backoff policy with the specified options.
func NewExponentialBackoffPolicyWithOpts(
	initialInterval time.Duration, maxRetryAttempts int, opts ExponentialBackoffOpts,
) ExponentialBackoffPolicy {
	if initialInterval <= 0 {
		initialInterval = DefaultExponentialBackoffInitialInterval
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = DefaultExponentialBackoffMultiplier
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultExponentialBackoffMaxInterval
	}
	if opts.RandomizationFactor <= 0 {
		opts.RandomizationFactor = DefaultExponentialBackoffRandomizationFactor
	}
	return ExponentialBackoffPolicy{initialInterval, maxRetryAttempts, opts}
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	eb.Multiplier = p.opts.Multiplier
	eb.MaxInterval = p.opts.MaxInterval
	eb.RandomizationFactor = p.opts.RandomizationFactor
	eb.MaxElapsedTime = 0 // stop by max attempts, not by elapsed time
	var bf backoff.BackOff = eb
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(eb, uint64(p.maxAttempts))
	}
	bf = &monotonicBackOff{delegate: bf}
	bf.Reset()
	return bf
}

// monotonicBackOff clamps each delay to be no shorter than the previous one,
// so jitter never produces an inter-attempt delay that undercuts an earlier one.
type monotonicBackOff struct {
	delegate backoff.BackOff
	last     time.Duration
}

// NextBackOff implements backoff.BackOff.
func (b *monotonicBackOff) NextBackOff() time.Duration {
	next := b.delegate.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if next < b.last {
		next = b.last
	}
	b.last = next
	return next
}

// Reset implements backoff.BackOff.
func (b *monotonicBackOff) Reset() {
	b.last = 0
	b.delegate.Reset()
}

// ConstantBackoffPolicy means repeat up to max times with constant interval delays.
type ConstantBackoffPolicy struct {
	interval    time.Duration
	maxAttempts int
}

// NewConstantBackoffPolicy returns a constant backoff policy with given interval and max retry attempt count.
func NewConstantBackoffPolicy(interval time.Duration, maxRetryAttempts int) ConstantBackoffPolicy {
	return ConstantBackoffPolicy{interval, maxRetryAttempts}
}

// NewBackOff implements retry.Policy.
func (p ConstantBackoffPolicy) NewBackOff() backoff.BackOff {
	var bf backoff.BackOff = backoff.NewConstantBackOff(p.interval)
	if p.maxAttempts > 0 {
		bf = backoff.WithMaxRetries(bf, uint64(p.maxAttempts))
	}
	bf.Reset()
	return bf
}
