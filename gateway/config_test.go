/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartlabs/go-gatewaykit/config"
)

func TestConfigSetFromYAML(t *testing.T) {
	cfgData := `
gateway:
  maxConcurrency: 4
  perAttemptTimeout: 30s
  retryableStatusCodes: [429, 503]
  priority:
    limit: 16
    targets: ["auth/*", "session/*"]
  retries:
    maxAttempts: 2
    initialInterval: 500ms
    multiplier: 2
    maxInterval: 3s
    randomizationFactor: 0.3
  batch:
    window: 100ms
    maxSize: 20
  cache:
    ttl: 45s
    maxEntries: 1000
    cleanupInterval: 2m
  httpClient:
    timeout: 20s
    maxResponseBodySize: 2M
    rateLimits:
      enabled: true
      limit: 50
`
	cfg := NewConfigWithKeyPrefix("gateway")
	err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader(cfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, 4, cfg.MaxConcurrency)
	require.Equal(t, 30*time.Second, cfg.PerAttemptTimeout)
	require.Equal(t, []int{429, 503}, cfg.RetryableStatusCodes)
	require.Equal(t, 16, cfg.Priority.Limit)
	require.Equal(t, []string{"auth/*", "session/*"}, cfg.Priority.Targets)
	require.Equal(t, 2, cfg.Retries.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retries.InitialInterval)
	require.Equal(t, float64(2), cfg.Retries.Multiplier)
	require.Equal(t, 3*time.Second, cfg.Retries.MaxInterval)
	require.Equal(t, 0.3, cfg.Retries.RandomizationFactor)
	require.Equal(t, 100*time.Millisecond, cfg.Batch.Window)
	require.Equal(t, 20, cfg.Batch.MaxSize)
	require.Equal(t, 45*time.Second, cfg.Cache.TTL)
	require.Equal(t, 1000, cfg.Cache.MaxEntries)
	require.Equal(t, 2*time.Minute, cfg.Cache.CleanupInterval)
	require.Equal(t, 20*time.Second, cfg.HTTPClient.Timeout)
	require.Equal(t, config.ByteSize(2*1024*1024), cfg.HTTPClient.MaxResponseBodySize)
	require.True(t, cfg.HTTPClient.RateLimits.Enabled)
	require.Equal(t, 50, cfg.HTTPClient.RateLimits.Limit)
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader("{}"), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	require.Equal(t, DefaultPerAttemptTimeout, cfg.PerAttemptTimeout)
	require.Equal(t, DefaultRetryableStatusCodes(), cfg.RetryableStatusCodes)
	require.Equal(t, DefaultMaxRetryAttempts, cfg.Retries.MaxAttempts)
	require.Equal(t, DefaultBatchWindow, cfg.Batch.Window)
	require.Equal(t, DefaultBatchMaxSize, cfg.Batch.MaxSize)
	require.Equal(t, DefaultCacheTTL, cfg.Cache.TTL)
	require.Equal(t, DefaultCacheCleanupInterval, cfg.Cache.CleanupInterval)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		Name    string
		Data    string
		WantErr string
	}{
		{
			Name:    "zero max concurrency",
			Data:    "maxConcurrency: 0",
			WantErr: "max concurrency must be positive",
		},
		{
			Name:    "negative batch window",
			Data:    "batch:\n  window: -1s",
			WantErr: "batch window must be positive",
		},
		{
			Name:    "invalid status code",
			Data:    "retryableStatusCodes: [999]",
			WantErr: "invalid status code 999",
		},
		{
			Name:    "zero cache ttl",
			Data:    "cache:\n  ttl: 0s",
			WantErr: "cache ttl must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(strings.NewReader(tt.Data), config.DataTypeYAML, cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.WantErr)
		})
	}
}
