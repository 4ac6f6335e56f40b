/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/cartlabs/go-gatewaykit/config"
	"github.com/cartlabs/go-gatewaykit/httpclient"
	"github.com/cartlabs/go-gatewaykit/retry"
)

// Default parameter values for Config.
const (
	DefaultMaxConcurrency = 8

	// DefaultPriorityLimitFactor is a multiplier of the gate's concurrency limit
	// used as the priority bypass ceiling when priority.limit is not set.
	DefaultPriorityLimitFactor = 4

	DefaultMaxRetryAttempts  = 3
	DefaultPerAttemptTimeout = 45 * time.Second

	DefaultBatchWindow  = 80 * time.Millisecond
	DefaultBatchMaxSize = 30

	DefaultCacheTTL             = 30 * time.Second
	DefaultCacheCleanupInterval = time.Minute
)

// DefaultRetryableStatusCodes returns status codes treated as transient by default.
func DefaultRetryableStatusCodes() []int {
	return []int{429, 502, 503, 504}
}

// Configuration properties.
const (
	cfgKeyMaxConcurrency             = "maxConcurrency"
	cfgKeyPerAttemptTimeout          = "perAttemptTimeout"
	cfgKeyRetryableStatusCodes       = "retryableStatusCodes"
	cfgKeyPriorityLimit              = "priority.limit"
	cfgKeyPriorityTargets            = "priority.targets"
	cfgKeyRetriesMaxAttempts         = "retries.maxAttempts"
	cfgKeyRetriesInitialInterval     = "retries.initialInterval"
	cfgKeyRetriesMultiplier          = "retries.multiplier"
	cfgKeyRetriesMaxInterval         = "retries.maxInterval"
	cfgKeyRetriesRandomizationFactor = "retries.randomizationFactor"
	cfgKeyBatchWindow                = "batch.window"
	cfgKeyBatchMaxSize               = "batch.maxSize"
	cfgKeyCacheTTL                   = "cache.ttl"
	cfgKeyCacheMaxEntries            = "cache.maxEntries"
	cfgKeyCacheCleanupInterval       = "cache.cleanupInterval"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// PriorityConfig represents configuration options for the priority bypass.
type PriorityConfig struct {
	// Limit is the bypass's own concurrency ceiling.
	// Zero means DefaultPriorityLimitFactor times the gate's limit,
	// UnboundedPriorityLimit disables the ceiling.
	Limit int `mapstructure:"limit"`

	// Targets is a glob allow-list of targets permitted to bypass the gate,
	// e.g. "auth/*" or "session/*".
	Targets []string `mapstructure:"targets"`
}

// Set is part of config interface implementation.
func (c *PriorityConfig) Set(dp config.DataProvider) error {
	limit, err := dp.GetInt(cfgKeyPriorityLimit)
	if err != nil {
		return err
	}
	if limit < 0 && limit != UnboundedPriorityLimit {
		return dp.WrapKeyErr(cfgKeyPriorityLimit,
			fmt.Errorf("priority limit should be positive, zero or %d", UnboundedPriorityLimit))
	}
	c.Limit = limit

	targets, err := dp.GetStringSlice(cfgKeyPriorityTargets)
	if err != nil {
		return err
	}
	c.Targets = targets

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *PriorityConfig) SetProviderDefaults(_ config.DataProvider) {}

// RetriesConfig represents configuration options for the executor's retry policy.
type RetriesConfig struct {
	// MaxAttempts is the maximum number of retry attempts.
	// The total number of sends may be MaxAttempts + 1 (the first send is not a retry).
	MaxAttempts int `mapstructure:"maxAttempts"`

	// InitialInterval is the initial backoff delay.
	InitialInterval time.Duration `mapstructure:"initialInterval"`

	// Multiplier is a factor by which the delay grows on each retry attempt.
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps a single delay.
	MaxInterval time.Duration `mapstructure:"maxInterval"`

	// RandomizationFactor defines the jitter applied to each delay.
	RandomizationFactor float64 `mapstructure:"randomizationFactor"`
}

// Set is part of config interface implementation.
func (c *RetriesConfig) Set(dp config.DataProvider) error {
	maxAttempts, err := dp.GetInt(cfgKeyRetriesMaxAttempts)
	if err != nil {
		return err
	}
	if maxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyRetriesMaxAttempts, errors.New("max retry attempts must not be negative"))
	}
	c.MaxAttempts = maxAttempts

	if c.InitialInterval, err = dp.GetDuration(cfgKeyRetriesInitialInterval); err != nil {
		return err
	}
	if c.Multiplier, err = dp.GetFloat64(cfgKeyRetriesMultiplier); err != nil {
		return err
	}
	if c.MaxInterval, err = dp.GetDuration(cfgKeyRetriesMaxInterval); err != nil {
		return err
	}
	if c.RandomizationFactor, err = dp.GetFloat64(cfgKeyRetriesRandomizationFactor); err != nil {
		return err
	}

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *RetriesConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRetriesMaxAttempts, DefaultMaxRetryAttempts)
	dp.SetDefault(cfgKeyRetriesInitialInterval, retry.DefaultExponentialBackoffInitialInterval)
	dp.SetDefault(cfgKeyRetriesMultiplier, retry.DefaultExponentialBackoffMultiplier)
	dp.SetDefault(cfgKeyRetriesMaxInterval, retry.DefaultExponentialBackoffMaxInterval)
	dp.SetDefault(cfgKeyRetriesRandomizationFactor, retry.DefaultExponentialBackoffRandomizationFactor)
}

// GetPolicy returns a backoff policy built from the configured parameters.
func (c *RetriesConfig) GetPolicy() retry.Policy {
	return retry.NewExponentialBackoffPolicyWithOpts(c.InitialInterval, c.MaxAttempts, retry.ExponentialBackoffOpts{
		Multiplier:          c.Multiplier,
		MaxInterval:         c.MaxInterval,
		RandomizationFactor: c.RandomizationFactor,
	})
}

// BatchConfig represents configuration options for the auto-batching collector.
type BatchConfig struct {
	// Window is the time interval during which lookups are collected
	// before being dispatched as one combined call.
	Window time.Duration `mapstructure:"window"`

	// MaxSize is the number of distinct keys that triggers an immediate flush.
	MaxSize int `mapstructure:"maxSize"`
}

// Set is part of config interface implementation.
func (c *BatchConfig) Set(dp config.DataProvider) error {
	window, err := dp.GetDuration(cfgKeyBatchWindow)
	if err != nil {
		return err
	}
	if window <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchWindow, errors.New("batch window must be positive"))
	}
	c.Window = window

	maxSize, err := dp.GetInt(cfgKeyBatchMaxSize)
	if err != nil {
		return err
	}
	if maxSize <= 0 {
		return dp.WrapKeyErr(cfgKeyBatchMaxSize, errors.New("batch max size must be positive"))
	}
	c.MaxSize = maxSize

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *BatchConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyBatchWindow, DefaultBatchWindow)
	dp.SetDefault(cfgKeyBatchMaxSize, DefaultBatchMaxSize)
}

// CacheConfig represents configuration options for the response cache.
type CacheConfig struct {
	// TTL is the maximum age at which a cached value is still considered valid.
	TTL time.Duration `mapstructure:"ttl"`

	// MaxEntries limits the number of entries in the cache. Zero means no limit.
	MaxEntries int `mapstructure:"maxEntries"`

	// CleanupInterval is the period of background eviction of expired entries
	// (see Client.RunPeriodicCacheCleanup).
	CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
}

// Set is part of config interface implementation.
func (c *CacheConfig) Set(dp config.DataProvider) error {
	ttl, err := dp.GetDuration(cfgKeyCacheTTL)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return dp.WrapKeyErr(cfgKeyCacheTTL, errors.New("cache ttl must be positive"))
	}
	c.TTL = ttl

	maxEntries, err := dp.GetInt(cfgKeyCacheMaxEntries)
	if err != nil {
		return err
	}
	if maxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, errors.New("cache max entries must not be negative"))
	}
	c.MaxEntries = maxEntries

	cleanupInterval, err := dp.GetDuration(cfgKeyCacheCleanupInterval)
	if err != nil {
		return err
	}
	if cleanupInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyCacheCleanupInterval, errors.New("cache cleanup interval must be positive"))
	}
	c.CleanupInterval = cleanupInterval

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *CacheConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyCacheTTL, DefaultCacheTTL)
	dp.SetDefault(cfgKeyCacheCleanupInterval, DefaultCacheCleanupInterval)
}

// Config represents options for the orchestration layer configuration.
type Config struct {
	// MaxConcurrency is the gate's limit of simultaneous outbound operations.
	MaxConcurrency int `mapstructure:"maxConcurrency"`

	// PerAttemptTimeout is the deadline of a single send attempt.
	PerAttemptTimeout time.Duration `mapstructure:"perAttemptTimeout"`

	// RetryableStatusCodes are response status codes treated as transient.
	RetryableStatusCodes []int `mapstructure:"retryableStatusCodes"`

	// Priority is a configuration for the priority bypass.
	Priority PriorityConfig `mapstructure:"priority"`

	// Retries is a configuration for the executor's retry policy.
	Retries RetriesConfig `mapstructure:"retries"`

	// Batch is a configuration for the auto-batching collector.
	Batch BatchConfig `mapstructure:"batch"`

	// Cache is a configuration for the response cache.
	Cache CacheConfig `mapstructure:"cache"`

	// HTTPClient is a configuration for the underlying HTTP client.
	HTTPClient httpclient.Config `mapstructure:"httpClient"`

	// keyPrefix is a prefix for configuration parameters.
	keyPrefix string
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return NewConfigWithKeyPrefix("")
}

// NewConfigWithKeyPrefix creates a new instance of the Config.
// Allows specifying key prefix which will be used for parsing configuration parameters.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{
		HTTPClient: *httpclient.NewConfigWithKeyPrefix("httpClient"),
		keyPrefix:  keyPrefix,
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) error {
	maxConcurrency, err := dp.GetInt(cfgKeyMaxConcurrency)
	if err != nil {
		return err
	}
	if maxConcurrency <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxConcurrency, errors.New("max concurrency must be positive"))
	}
	c.MaxConcurrency = maxConcurrency

	perAttemptTimeout, err := dp.GetDuration(cfgKeyPerAttemptTimeout)
	if err != nil {
		return err
	}
	if perAttemptTimeout <= 0 {
		return dp.WrapKeyErr(cfgKeyPerAttemptTimeout, errors.New("per-attempt timeout must be positive"))
	}
	c.PerAttemptTimeout = perAttemptTimeout

	statusCodes, err := dp.GetIntSlice(cfgKeyRetryableStatusCodes)
	if err != nil {
		return err
	}
	for _, code := range statusCodes {
		if code < 100 || code > 599 {
			return dp.WrapKeyErr(cfgKeyRetryableStatusCodes,
				fmt.Errorf("invalid status code %d", code))
		}
	}
	c.RetryableStatusCodes = statusCodes

	if err = c.Priority.Set(dp); err != nil {
		return err
	}
	if err = c.Retries.Set(dp); err != nil {
		return err
	}
	if err = c.Batch.Set(dp); err != nil {
		return err
	}
	if err = c.Cache.Set(dp); err != nil {
		return err
	}
	if err = c.HTTPClient.Set(config.NewKeyPrefixedDataProvider(dp, c.HTTPClient.KeyPrefix())); err != nil {
		return err
	}

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxConcurrency, DefaultMaxConcurrency)
	dp.SetDefault(cfgKeyPerAttemptTimeout, DefaultPerAttemptTimeout)
	dp.SetDefault(cfgKeyRetryableStatusCodes, DefaultRetryableStatusCodes())
	c.Priority.SetProviderDefaults(dp)
	c.Retries.SetProviderDefaults(dp)
	c.Batch.SetProviderDefaults(dp)
	c.Cache.SetProviderDefaults(dp)
	c.HTTPClient.SetProviderDefaults(config.NewKeyPrefixedDataProvider(dp, c.HTTPClient.KeyPrefix()))
}
