/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cartlabs/go-gatewaykit/log"
	"github.com/cartlabs/go-gatewaykit/retry"
	"github.com/cartlabs/go-gatewaykit/ttlcache"
)

// NoRetryAttempts should be used as RetriesConfig.MaxAttempts value to disable retries.
const NoRetryAttempts = -1

// CheckRetryFunc is called after every send attempt and determines
// if the next retry attempt is needed.
type CheckRetryFunc func(resp *Response, err error) bool

// Client is the orchestration layer's entry point. It owns the concurrency
// gate, the resilient executor, the priority bypass and the response cache,
// and exposes the four call shapes collaborators use: Execute,
// ExecutePriority, Batcher lookups (see NewBatcher) and GetOrFetch.
//
// A Client is constructed once at process start and shared by all call sites.
type Client struct {
	transport Transport
	gate      *ConcurrencyGate
	priority  *priorityGate
	cache     *ttlcache.Cache[string, *Response]

	maxRetryAttempts     int
	perAttemptTimeout    time.Duration
	backoffPolicy        retry.Policy
	checkRetry           CheckRetryFunc
	cacheCleanupInterval time.Duration
	batchCfg             BatchConfig

	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// ClientOpts represents options for NewClientWithOpts.
type ClientOpts struct {
	// Logger is used for logging retries and internal events.
	Logger log.FieldLogger

	// MetricsCollector collects gate/executor/batcher metrics.
	// It can be nil, in this case metrics will be disabled.
	MetricsCollector MetricsCollector

	// CacheMetricsCollector collects response cache metrics.
	CacheMetricsCollector ttlcache.MetricsCollector

	// BackoffPolicy overrides the policy built from the configuration.
	BackoffPolicy retry.Policy

	// CheckRetry overrides the default retry classification
	// (temporary network failures, per-attempt timeouts and retryable status codes).
	CheckRetry CheckRetryFunc
}

// NewClient creates a new Client with the provided transport and configuration.
func NewClient(transport Transport, cfg *Config) (*Client, error) {
	return NewClientWithOpts(transport, cfg, ClientOpts{})
}

// NewClientWithOpts creates a new Client with the provided transport, configuration and options.
func NewClientWithOpts(transport Transport, cfg *Config, opts ClientOpts) (*Client, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg == nil {
		cfg = NewConfig()
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetrics{}
	}

	gate, err := NewConcurrencyGate(maxConcurrency, opts.MetricsCollector)
	if err != nil {
		return nil, err
	}

	priorityLimit := cfg.Priority.Limit
	if priorityLimit == 0 {
		priorityLimit = DefaultPriorityLimitFactor * maxConcurrency
	}
	priority, err := newPriorityGate(cfg.Priority.Targets, priorityLimit)
	if err != nil {
		return nil, err
	}

	maxRetryAttempts := cfg.Retries.MaxAttempts
	switch {
	case maxRetryAttempts == 0:
		maxRetryAttempts = DefaultMaxRetryAttempts
	case maxRetryAttempts == NoRetryAttempts:
		maxRetryAttempts = 0
	case maxRetryAttempts < 0:
		return nil, fmt.Errorf("incorrect max retry attempts %d", cfg.Retries.MaxAttempts)
	}

	perAttemptTimeout := cfg.PerAttemptTimeout
	if perAttemptTimeout == 0 {
		perAttemptTimeout = DefaultPerAttemptTimeout
	}

	backoffPolicy := opts.BackoffPolicy
	if backoffPolicy == nil {
		backoffPolicy = retry.NewExponentialBackoffPolicyWithOpts(
			cfg.Retries.InitialInterval, 0, retry.ExponentialBackoffOpts{
				Multiplier:          cfg.Retries.Multiplier,
				MaxInterval:         cfg.Retries.MaxInterval,
				RandomizationFactor: cfg.Retries.RandomizationFactor,
			})
	}

	checkRetry := opts.CheckRetry
	if checkRetry == nil {
		checkRetry = NewDefaultCheckRetry(cfg.RetryableStatusCodes)
	}

	cacheTTL := cfg.Cache.TTL
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}
	cache, err := ttlcache.NewWithOpts[string, *Response](cacheTTL, ttlcache.Options{
		MaxEntries:       cfg.Cache.MaxEntries,
		MetricsCollector: opts.CacheMetricsCollector,
	})
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	cacheCleanupInterval := cfg.Cache.CleanupInterval
	if cacheCleanupInterval == 0 {
		cacheCleanupInterval = DefaultCacheCleanupInterval
	}

	batchCfg := cfg.Batch
	if batchCfg.Window == 0 {
		batchCfg.Window = DefaultBatchWindow
	}
	if batchCfg.MaxSize == 0 {
		batchCfg.MaxSize = DefaultBatchMaxSize
	}

	return &Client{
		transport:            transport,
		gate:                 gate,
		priority:             priority,
		cache:                cache,
		maxRetryAttempts:     maxRetryAttempts,
		perAttemptTimeout:    perAttemptTimeout,
		backoffPolicy:        backoffPolicy,
		checkRetry:           checkRetry,
		cacheCleanupInterval: cacheCleanupInterval,
		batchCfg:             batchCfg,
		logger:               opts.Logger,
		metricsCollector:     opts.MetricsCollector,
	}, nil
}

// NewDefaultCheckRetry returns the default retry classification for the given
// set of transient status codes: temporary network failures and per-attempt
// timeouts are retried, responses are retried when their status is in the set.
func NewDefaultCheckRetry(retryableStatusCodes []int) CheckRetryFunc {
	codes := make(map[int]struct{}, len(retryableStatusCodes))
	if len(retryableStatusCodes) == 0 {
		retryableStatusCodes = DefaultRetryableStatusCodes()
	}
	for _, code := range retryableStatusCodes {
		codes[code] = struct{}{}
	}
	return func(resp *Response, err error) bool {
		if err != nil {
			return errors.Is(err, context.DeadlineExceeded) || CheckErrorIsTemporary(err)
		}
		if resp == nil {
			return false
		}
		_, retryable := codes[resp.StatusCode]
		return retryable
	}
}

// CheckErrorIsTemporary checks either error is temporary or not.
func CheckErrorIsTemporary(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var terr interface{ Temporary() bool }
	ok := errors.As(err, &terr)
	return ok && terr.Temporary()
}

// Gate returns the client's concurrency gate.
func (c *Client) Gate() *ConcurrencyGate {
	return c.gate
}

// Execute runs one logical operation through the concurrency gate with
// retries and backoff. The returned response may carry any status code;
// only statuses from the retryable set are retried, everything else is the
// collaborator's business. A failure is always an *OperationError.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		// Never attempt on an already cancelled context.
		return nil, newContextError(req.Target, err)
	}

	if err := c.gate.Acquire(ctx); err != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) {
			opErr.Target = req.Target
		}
		return nil, err
	}
	defer c.gate.Release()

	return c.execute(ctx, req)
}

// ExecutePriority runs one logical operation with the same retry semantics as
// Execute but skips the concurrency gate. It is permitted only for targets
// matching the configured priority allow-list and is bounded by the bypass's
// own, higher ceiling so bulk traffic never starves latency-critical calls.
func (c *Client) ExecutePriority(ctx context.Context, req *Request) (*Response, error) {
	if !c.priority.allows(req.Target) {
		return nil, &OperationError{
			Kind:   ErrorKindTerminal,
			Target: req.Target,
			Inner:  errors.New("target is not in the priority allow-list"),
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, newContextError(req.Target, err)
	}

	if err := c.priority.acquire(ctx); err != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) {
			opErr.Target = req.Target
		}
		return nil, err
	}
	defer c.priority.release()

	return c.execute(ctx, req)
}

// execute is the resilient attempt loop shared by Execute and ExecutePriority.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	bf := c.backoffPolicy.NewBackOff()

	for attempt := 0; ; attempt++ {
		resp, err := c.sendAttempt(ctx, req)

		// External cancellation always wins over retry policy.
		if ctxErr := ctx.Err(); ctxErr != nil {
			opErr := newContextError(req.Target, ctxErr)
			opErr.Attempts = attempt + 1
			return nil, opErr
		}

		if !c.checkRetry(resp, err) {
			if err != nil {
				return nil, c.newFinalError(req.Target, err, attempt+1)
			}
			return resp, nil
		}

		if attempt >= c.maxRetryAttempts {
			if err != nil {
				return nil, c.newFinalError(req.Target, err, attempt+1)
			}
			// Retryable status with attempts exhausted: the response is the outcome.
			return resp, nil
		}

		delay := bf.NextBackOff()
		if delay == backoff.Stop {
			if err != nil {
				return nil, c.newFinalError(req.Target, err, attempt+1)
			}
			return resp, nil
		}

		retryFields := []log.Field{
			log.String("target", req.Target),
			log.Int("attempt", attempt),
			log.Duration("delay", delay),
		}
		if err != nil {
			retryFields = append(retryFields, log.Error(err))
		} else {
			retryFields = append(retryFields, log.Int("status_code", resp.StatusCode))
		}
		c.logger.Warn("retrying gateway operation", retryFields...)
		c.metricsCollector.IncRetries()

		select {
		case <-ctx.Done():
			opErr := newContextError(req.Target, ctx.Err())
			opErr.Attempts = attempt + 1
			return nil, opErr
		case <-time.After(delay):
		}
	}
}

// sendAttempt runs one try of the operation under its own cancellation
// boundary that fires on the per-attempt timeout or the caller's context.
func (c *Client) sendAttempt(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx := ctx
	cancel := func() {}
	if c.perAttemptTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.perAttemptTimeout)
	}
	defer cancel()
	return c.transport.Send(attemptCtx, req)
}

func (c *Client) newFinalError(target string, err error, attempts int) *OperationError {
	kind := ErrorKindTerminal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrorKindTimeout
	case CheckErrorIsTemporary(err):
		kind = ErrorKindTransient
	}
	return &OperationError{Kind: kind, Target: target, Attempts: attempts, Inner: err}
}
