/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/cartlabs/go-gatewaykit/log/logtest"
	"github.com/cartlabs/go-gatewaykit/retry"
)

func newTestClient(t *testing.T, transport Transport, cfg *Config, opts ClientOpts) *Client {
	t.Helper()
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = retry.NewConstantBackoffPolicy(time.Millisecond*20, 0)
	}
	client, err := NewClientWithOpts(transport, cfg, opts)
	require.NoError(t, err)
	return client
}

func TestClientExecuteRetriesTransientStatusThenSucceeds(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if sends.Inc() <= 2 {
			return &Response{StatusCode: http.StatusServiceUnavailable}, nil
		}
		return &Response{StatusCode: http.StatusOK, Body: []byte("ok")}, nil
	})

	recorder := logtest.NewRecorder()
	client := newTestClient(t, transport, nil, ClientOpts{Logger: recorder})

	start := time.Now()
	resp, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), sends.Load())

	// Two inter-attempt delays of 20ms each.
	require.GreaterOrEqual(t, time.Since(start), 2*20*time.Millisecond*9/10)

	retryEntries := recorder.FindAllEntriesByFilter(func(entry logtest.RecordedEntry) bool {
		return entry.Text == "retrying gateway operation"
	})
	require.Len(t, retryEntries, 2)
	statusField, found := retryEntries[0].FindField("status_code")
	require.True(t, found)
	require.EqualValues(t, http.StatusServiceUnavailable, statusField.Int)
}

func TestClientExecuteRetryBound(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		return &Response{StatusCode: http.StatusBadGateway}, nil
	})

	cfg := &Config{Retries: RetriesConfig{MaxAttempts: 2}}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	resp, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(3), sends.Load()) // first send + 2 retries
}

func TestClientExecuteTerminalStatusNotRetried(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		return &Response{StatusCode: http.StatusNotFound}, nil
	})
	client := newTestClient(t, transport, nil, ClientOpts{})

	resp, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, int32(1), sends.Load())
}

func TestClientExecuteTransientTransportErrorSurfaced(t *testing.T) {
	var sends atomic.Int32
	tempErr := &temporaryError{}
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		return nil, tempErr
	})

	cfg := &Config{Retries: RetriesConfig{MaxAttempts: 1}}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	_, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
	require.Error(t, err)
	require.True(t, IsTransient(err))
	require.ErrorIs(t, err, tempErr)
	require.Equal(t, int32(2), sends.Load())

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, 2, opErr.Attempts)
	require.Equal(t, "catalog/products", opErr.Target)
}

func TestClientExecuteCancelledContextNeverAttempts(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		return &Response{StatusCode: http.StatusOK}, nil
	})
	client := newTestClient(t, transport, nil, ClientOpts{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Execute(ctx, &Request{Target: "catalog/products"})
	require.True(t, IsCancelled(err))
	require.Equal(t, int32(0), sends.Load())
}

func TestClientExecuteMidAttemptCancellationNotRetried(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	client := newTestClient(t, transport, nil, ClientOpts{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 20)
		cancel()
	}()
	_, err := client.Execute(ctx, &Request{Target: "catalog/products"})
	require.True(t, IsCancelled(err))
	require.Equal(t, int32(1), sends.Load())
}

func TestClientExecutePerAttemptTimeout(t *testing.T) {
	var sends atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		sends.Inc()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := &Config{
		PerAttemptTimeout: time.Millisecond * 20,
		Retries:           RetriesConfig{MaxAttempts: NoRetryAttempts},
	}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	_, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
	require.True(t, IsTimeout(err))
	require.Equal(t, int32(1), sends.Load())
}

func TestClientExecuteGateScenario(t *testing.T) {
	// C=2, 5 operations of 100ms each: the third starts only after one of the
	// first two completes, and all 5 complete in about 300ms.
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		time.Sleep(time.Millisecond * 100)
		return &Response{StatusCode: http.StatusOK}, nil
	})
	cfg := &Config{MaxConcurrency: 2}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	var mu sync.Mutex
	var startTimes []time.Duration
	begin := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Execute(context.Background(), &Request{Target: "catalog/products"})
			require.NoError(t, err)
			mu.Lock()
			startTimes = append(startTimes, time.Since(begin))
			mu.Unlock()
		}()
	}
	wg.Wait()
	total := time.Since(begin)

	require.GreaterOrEqual(t, total, 290*time.Millisecond)
	require.Less(t, total, 600*time.Millisecond)
	require.Len(t, startTimes, 5)
}

func TestClientExecutePriorityAllowList(t *testing.T) {
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK}, nil
	})
	cfg := &Config{Priority: PriorityConfig{Targets: []string{"auth/*", "session/*"}}}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	resp, err := client.ExecutePriority(context.Background(), &Request{Target: "auth/whoami"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = client.ExecutePriority(context.Background(), &Request{Target: "catalog/products"})
	require.Error(t, err)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	require.Equal(t, ErrorKindTerminal, opErr.Kind)
}

func TestClientExecutePrioritySkipsSaturatedGate(t *testing.T) {
	blockBulk := make(chan struct{})
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if req.Target == "catalog/slow" {
			<-blockBulk
		}
		return &Response{StatusCode: http.StatusOK}, nil
	})
	cfg := &Config{
		MaxConcurrency: 1,
		Priority:       PriorityConfig{Targets: []string{"auth/*"}},
	}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	bulkDone := make(chan struct{})
	go func() {
		defer close(bulkDone)
		_, _ = client.Execute(context.Background(), &Request{Target: "catalog/slow"})
	}()
	require.Eventually(t, func() bool { return client.Gate().InFlight() == 1 }, time.Second, time.Millisecond)

	// The gate is saturated, but the priority call goes through immediately.
	resp, err := client.ExecutePriority(context.Background(), &Request{Target: "auth/whoami"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	close(blockBulk)
	<-bulkDone
}

func TestClientGetOrFetchDeduplicatesAndInvalidates(t *testing.T) {
	var fetches atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		fetches.Inc()
		time.Sleep(time.Millisecond * 30)
		return &Response{StatusCode: http.StatusOK, Body: []byte("sku-123 data")}, nil
	})
	client := newTestClient(t, transport, nil, ClientOpts{})

	fetch := func(ctx context.Context) (*Response, error) {
		return client.Execute(ctx, &Request{Target: "catalog/products/sku-123"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.GetOrFetch(context.Background(), "sku-123", fetch)
			require.NoError(t, err)
			require.Equal(t, "sku-123 data", string(resp.Body))
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), fetches.Load())

	// Cached now, no new fetch.
	_, err := client.GetOrFetch(context.Background(), "sku-123", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(1), fetches.Load())

	// Invalidation forces a refetch.
	client.Invalidate("sku-123")
	_, err = client.GetOrFetch(context.Background(), "sku-123", fetch)
	require.NoError(t, err)
	require.Equal(t, int32(2), fetches.Load())
}

func TestClientGetOrFetchRefetchesAfterTTL(t *testing.T) {
	var fetches atomic.Int32
	transport := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		fetches.Inc()
		return &Response{StatusCode: http.StatusOK, Body: []byte("sku-123 data")}, nil
	})
	cfg := &Config{Cache: CacheConfig{TTL: time.Millisecond * 30}}
	client := newTestClient(t, transport, cfg, ClientOpts{})

	fetch := func(ctx context.Context) (*Response, error) {
		return client.Execute(ctx, &Request{Target: "catalog/products/sku-123"})
	}

	lookupAll := func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := client.GetOrFetch(context.Background(), "sku-123", fetch)
				require.NoError(t, err)
				require.Equal(t, "sku-123 data", string(resp.Body))
			}()
		}
		wg.Wait()
	}

	lookupAll()
	require.Equal(t, int32(1), fetches.Load())

	// Past the TTL, the stale record costs exactly one new fetch for the burst.
	time.Sleep(time.Millisecond * 50)
	lookupAll()
	require.Equal(t, int32(2), fetches.Load())
}

func TestClientGetOrFetchFailureNotCached(t *testing.T) {
	var fetches atomic.Int32
	fetchErr := errors.New("upstream unavailable")
	client := newTestClient(t, TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return nil, fetchErr
	}), nil, ClientOpts{})

	fetch := func(ctx context.Context) (*Response, error) {
		fetches.Inc()
		return nil, fetchErr
	}

	_, err := client.GetOrFetch(context.Background(), "sku-456", fetch)
	require.ErrorIs(t, err, fetchErr)
	_, err = client.GetOrFetch(context.Background(), "sku-456", fetch)
	require.ErrorIs(t, err, fetchErr)
	require.Equal(t, int32(2), fetches.Load())
	require.Equal(t, 0, client.CacheLen())
}

type temporaryError struct{}

func (e *temporaryError) Error() string   { return "temporary failure" }
func (e *temporaryError) Temporary() bool { return true }
