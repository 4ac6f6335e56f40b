/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartlabs/go-gatewaykit/config"
)

func TestNewWithOptsAssemblesChain(t *testing.T) {
	var gotUserAgent, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := NewConfig()
	cfg.Timeout = 5 * time.Second
	client, err := NewWithOpts(cfg, Opts{
		UserAgent:   "storefront-gateway/1.0",
		RequestType: "catalog",
	})
	require.NoError(t, err)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, "ok", string(body))
	require.Equal(t, "storefront-gateway/1.0", gotUserAgent)
	require.NotEmpty(t, gotRequestID)
}

func TestRequestIDRoundTripperUsesContextID(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewRequestIDRoundTripper(http.DefaultTransport)}
	ctx := NewContextWithRequestID(context.Background(), "req-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "req-42", gotRequestID)
}

func TestRequestIDRoundTripperKeepsExistingHeader(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewRequestIDRoundTripper(http.DefaultTransport)}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "preset")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "preset", gotRequestID)
}

func TestBodyLimitRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewBodyLimitRoundTripper(http.DefaultTransport, 10)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	var tooLargeErr *ResponseBodyTooLargeError
	require.ErrorAs(t, err, &tooLargeErr)
	require.EqualValues(t, 10, tooLargeErr.MaxSize)
}

func TestBodyLimitRoundTripperExactSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10)))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewBodyLimitRoundTripper(http.DefaultTransport, 10)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Len(t, body, 10)
}

func TestConfigSetFromYAML(t *testing.T) {
	cfgData := `
client:
  timeout: 30s
  maxResponseBodySize: 1M
  rateLimits:
    enabled: true
    limit: 20
    burst: 5
    waitTimeout: 2s
  logger:
    enabled: true
    mode: all
    slowRequestThreshold: 100ms
  metrics:
    enabled: true
`
	cfg := NewConfigWithKeyPrefix("client")
	err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, config.ByteSize(1024*1024), cfg.MaxResponseBodySize)
	require.True(t, cfg.RateLimits.Enabled)
	require.Equal(t, 20, cfg.RateLimits.Limit)
	require.Equal(t, 5, cfg.RateLimits.Burst)
	require.Equal(t, 2*time.Second, cfg.RateLimits.WaitTimeout)
	require.Equal(t, string(LoggingModeAll), cfg.Logger.Mode)
	require.Equal(t, 100*time.Millisecond, cfg.Logger.SlowRequestThreshold)
	require.True(t, cfg.Metrics.Enabled)
}

func TestConfigInvalidRateLimit(t *testing.T) {
	cfgData := `
rateLimits:
  enabled: true
  limit: 0
`
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader(cfgData), config.DataTypeYAML, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limit must be positive")
}
