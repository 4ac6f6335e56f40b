/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testServiceConfig struct {
	Endpoint     string
	Timeout      time.Duration
	StatusCodes  []int
	MaxBodySize  ByteSize
	AllowedZones []string

	keyPrefix string
}

func (c *testServiceConfig) KeyPrefix() string {
	return c.keyPrefix
}

func (c *testServiceConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("timeout", "30s")
	dp.SetDefault("maxBodySize", "1M")
}

func (c *testServiceConfig) Set(dp DataProvider) error {
	var err error
	if c.Endpoint, err = dp.GetString("endpoint"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	if c.StatusCodes, err = dp.GetIntSlice("statusCodes"); err != nil {
		return err
	}
	if c.MaxBodySize, err = dp.GetBytesCount("maxBodySize"); err != nil {
		return err
	}
	if c.AllowedZones, err = dp.GetStringSlice("allowedZones"); err != nil {
		return err
	}
	return nil
}

func TestLoaderLoadFromReader(t *testing.T) {
	cfgData := bytes.NewBuffer([]byte(`
svc:
  endpoint: https://gw.example.com
  statusCodes: [429, 503]
  allowedZones: ["eu", "us"]
`))

	cfg := &testServiceConfig{keyPrefix: "svc"}
	err := NewDefaultLoader("").LoadFromReader(cfgData, DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, "https://gw.example.com", cfg.Endpoint)
	require.Equal(t, time.Second*30, cfg.Timeout)
	require.Equal(t, []int{429, 503}, cfg.StatusCodes)
	require.Equal(t, ByteSize(1024*1024), cfg.MaxBodySize)
	require.Equal(t, []string{"eu", "us"}, cfg.AllowedZones)
}

func TestLoaderOverridesDefaults(t *testing.T) {
	cfgData := bytes.NewBuffer([]byte(`
svc:
  endpoint: https://gw.example.com
  timeout: 5s
  maxBodySize: 256K
`))

	cfg := &testServiceConfig{keyPrefix: "svc"}
	err := NewDefaultLoader("").LoadFromReader(cfgData, DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, time.Second*5, cfg.Timeout)
	require.Equal(t, ByteSize(256*1024), cfg.MaxBodySize)
}

func TestViperAdapterGetStringFromSet(t *testing.T) {
	va := NewViperAdapter()
	va.Set("mode", "All")

	got, err := va.GetStringFromSet("mode", []string{"none", "all", "failed"}, true)
	require.NoError(t, err)
	require.Equal(t, "All", got)

	_, err = va.GetStringFromSet("mode", []string{"none", "failed"}, true)
	require.ErrorContains(t, err, "unknown value")
}

func TestKeyPrefixedDataProvider(t *testing.T) {
	va := NewViperAdapter()
	va.Set("gateway.batch.maxSize", 30)

	dp := NewKeyPrefixedDataProvider(va, "gateway")
	got, err := dp.GetInt("batch.maxSize")
	require.NoError(t, err)
	require.Equal(t, 30, got)
	require.True(t, dp.IsSet("batch.maxSize"))
	require.False(t, dp.IsSet("batch.window"))
}
