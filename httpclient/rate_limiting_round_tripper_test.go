/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimitingRoundTripperThrottles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rt, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 10, RateLimitingRoundTripperOpts{
		WaitTimeout: time.Second * 5,
	})
	require.NoError(t, err)
	client := &http.Client{Transport: rt}

	const reqCount = 5
	start := time.Now()
	for i := 0; i < reqCount; i++ {
		resp, respErr := client.Get(srv.URL)
		require.NoError(t, respErr)
		resp.Body.Close()
	}

	// Burst of 1 means requests after the first one wait ~100ms each.
	minElapsed := time.Duration(reqCount-1) * (time.Second / 10)
	require.GreaterOrEqual(t, time.Since(start), minElapsed-minElapsed/10)
}

func TestRateLimitingRoundTripperWaitTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rt, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 1, RateLimitingRoundTripperOpts{
		WaitTimeout: time.Millisecond * 10,
	})
	require.NoError(t, err)
	client := &http.Client{Transport: rt}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	// The second request can't be made within the wait timeout.
	_, err = client.Get(srv.URL)
	require.Error(t, err)
	var waitErr *RateLimitingWaitError
	require.ErrorAs(t, err, &waitErr)
}

func TestRateLimitingRoundTripperAdaptation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "50")
	}))
	defer srv.Close()

	rt, err := NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 100, RateLimitingRoundTripperOpts{
		Adaptation: RateLimitingRoundTripperAdaptation{
			ResponseHeaderName: "X-RateLimit-Limit",
			SlackPercent:       10,
		},
	})
	require.NoError(t, err)
	client := &http.Client{Transport: rt}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	// 50 lowered by 10% slack.
	require.Equal(t, rate.Limit(45), rt.rateLimiter.Limit())
}

func TestNewRateLimitingRoundTripperValidation(t *testing.T) {
	_, err := NewRateLimitingRoundTripper(http.DefaultTransport, 0)
	require.Error(t, err)

	_, err = NewRateLimitingRoundTripperWithOpts(http.DefaultTransport, 1, RateLimitingRoundTripperOpts{
		Adaptation: RateLimitingRoundTripperAdaptation{SlackPercent: 101},
	})
	require.Error(t, err)
}
