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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestBatcherCoalescesLookups(t *testing.T) {
	var flushes atomic.Int32
	var flushedKeys []string
	var mu sync.Mutex
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		flushes.Inc()
		mu.Lock()
		flushedKeys = append([]string{}, keys...)
		mu.Unlock()
		results := make(map[string]string, len(keys))
		for _, key := range keys {
			results[key] = "value of " + key
		}
		return results, nil
	}

	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Millisecond * 50, MaxSize: 100})
	require.NoError(t, err)

	// 50 callers, 10 distinct keys, all within one window.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("sku-%d", i%10)
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, found, lookupErr := batcher.Lookup(context.Background(), key)
			require.NoError(t, lookupErr)
			require.True(t, found)
			require.Equal(t, "value of "+key, value)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), flushes.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushedKeys, 10)
}

func TestBatcherExplicitNotFound(t *testing.T) {
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		return map[string]string{"sku-1": "winter jacket"}, nil
	}
	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Millisecond * 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		value, found, lookupErr := batcher.Lookup(context.Background(), "sku-1")
		require.NoError(t, lookupErr)
		require.True(t, found)
		require.Equal(t, "winter jacket", value)
	}()
	go func() {
		defer wg.Done()
		_, found, lookupErr := batcher.Lookup(context.Background(), "sku-2")
		require.NoError(t, lookupErr)
		require.False(t, found)
	}()
	wg.Wait()
}

func TestBatcherLookupErrorFailsAllCallers(t *testing.T) {
	lookupErr := errors.New("combined lookup failed")
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		return nil, lookupErr
	}
	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Millisecond * 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("sku-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, gotErr := batcher.Lookup(context.Background(), key)
			require.ErrorIs(t, gotErr, lookupErr)
		}()
	}
	wg.Wait()
}

func TestBatcherMaxSizeFlushesImmediately(t *testing.T) {
	var flushes atomic.Int32
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		flushes.Inc()
		results := make(map[string]string, len(keys))
		for _, key := range keys {
			results[key] = key
		}
		return results, nil
	}
	// The window is far away, only the size threshold can trigger the flush.
	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Minute, MaxSize: 5})
	require.NoError(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("sku-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, lookupErr := batcher.Lookup(context.Background(), key)
			require.NoError(t, lookupErr)
			require.True(t, found)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), flushes.Load())
	require.Less(t, time.Since(start), time.Second*10)
}

func TestBatcherCallerCancellationDetaches(t *testing.T) {
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		return map[string]string{}, nil
	}
	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, lookupErr := batcher.Lookup(ctx, "sku-1")
		done <- lookupErr
	}()

	time.Sleep(time.Millisecond * 10)
	cancel()
	select {
	case lookupErr := <-done:
		require.True(t, IsCancelled(lookupErr))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not detach from the batch")
	}
}

func TestBatcherSecondWindowAfterFlush(t *testing.T) {
	var flushes atomic.Int32
	lookup := func(ctx context.Context, keys []string) (map[string]string, error) {
		flushes.Inc()
		results := make(map[string]string, len(keys))
		for _, key := range keys {
			results[key] = key
		}
		return results, nil
	}
	batcher, err := NewBatcherWithOpts(lookup, BatcherOpts{Window: time.Millisecond * 10})
	require.NoError(t, err)

	_, found, lookupErr := batcher.Lookup(context.Background(), "sku-1")
	require.NoError(t, lookupErr)
	require.True(t, found)

	_, found, lookupErr = batcher.Lookup(context.Background(), "sku-2")
	require.NoError(t, lookupErr)
	require.True(t, found)

	require.Equal(t, int32(2), flushes.Load())
}
