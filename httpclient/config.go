/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package httpclient

import (
	"errors"
	"time"

	"github.com/cartlabs/go-gatewaykit/config"
)

// Default parameter values for Config.
const (
	// DefaultClientWaitTimeout is a default timeout for a client to wait for a request.
	DefaultClientWaitTimeout = 10 * time.Second

	// DefaultMaxResponseBodySize is a default limit for a response body size.
	DefaultMaxResponseBodySize = config.ByteSize(8 * 1024 * 1024)
)

// Configuration properties.
const (
	cfgKeyRateLimitsEnabled                      = "rateLimits.enabled"
	cfgKeyRateLimitsLimit                        = "rateLimits.limit"
	cfgKeyRateLimitsBurst                        = "rateLimits.burst"
	cfgKeyRateLimitsWaitTimeout                  = "rateLimits.waitTimeout"
	cfgKeyRateLimitsAdaptationResponseHeaderName = "rateLimits.adaptation.responseHeaderName"
	cfgKeyRateLimitsAdaptationSlackPercent       = "rateLimits.adaptation.slackPercent"
	cfgKeyLoggerEnabled                          = "logger.enabled"
	cfgKeyLoggerMode                             = "logger.mode"
	cfgKeyLoggerSlowRequestThreshold             = "logger.slowRequestThreshold"
	cfgKeyMetricsEnabled                         = "metrics.enabled"
	cfgKeyTimeout                                = "timeout"
	cfgKeyMaxResponseBodySize                    = "maxResponseBodySize"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// RateLimitConfig represents configuration options for HTTP client rate limits.
type RateLimitConfig struct {
	// Enabled is a flag that enables rate limiting.
	Enabled bool `mapstructure:"enabled"`

	// Limit is the maximum number of requests per second that can be made.
	Limit int `mapstructure:"limit"`

	// Burst allows temporary spikes in request rate.
	Burst int `mapstructure:"burst"`

	// WaitTimeout is the maximum time to wait for a request to be made.
	WaitTimeout time.Duration `mapstructure:"waitTimeout"`

	// AdaptationResponseHeaderName is a response HTTP header with a new rate limit value.
	// Empty value disables the adaptation.
	AdaptationResponseHeaderName string `mapstructure:"adaptationResponseHeaderName"`

	// AdaptationSlackPercent is a percent by which the limit received in the response is lowered.
	AdaptationSlackPercent int `mapstructure:"adaptationSlackPercent"`
}

// Set is part of config interface implementation.
func (c *RateLimitConfig) Set(dp config.DataProvider) (err error) {
	enabled, err := dp.GetBool(cfgKeyRateLimitsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	if !c.Enabled {
		return nil
	}

	limit, err := dp.GetInt(cfgKeyRateLimitsLimit)
	if err != nil {
		return err
	}
	if limit <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsLimit, errors.New("client rate limit must be positive"))
	}
	c.Limit = limit

	burst, err := dp.GetInt(cfgKeyRateLimitsBurst)
	if err != nil {
		return err
	}
	if burst < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsBurst, errors.New("client burst must not be negative"))
	}
	c.Burst = burst

	waitTimeout, err := dp.GetDuration(cfgKeyRateLimitsWaitTimeout)
	if err != nil {
		return err
	}
	if waitTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitsWaitTimeout, errors.New("client wait timeout must not be negative"))
	}
	c.WaitTimeout = waitTimeout

	headerName, err := dp.GetString(cfgKeyRateLimitsAdaptationResponseHeaderName)
	if err != nil {
		return err
	}
	c.AdaptationResponseHeaderName = headerName

	slackPercent, err := dp.GetInt(cfgKeyRateLimitsAdaptationSlackPercent)
	if err != nil {
		return err
	}
	if slackPercent < 0 || slackPercent > 100 {
		return dp.WrapKeyErr(cfgKeyRateLimitsAdaptationSlackPercent,
			errors.New("client adaptation slack percent must be in range [0..100]"))
	}
	c.AdaptationSlackPercent = slackPercent

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *RateLimitConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRateLimitsBurst, DefaultRateLimitingBurst)
	dp.SetDefault(cfgKeyRateLimitsWaitTimeout, DefaultRateLimitingWaitTimeout)
}

// TransportOpts returns transport options.
func (c *RateLimitConfig) TransportOpts() RateLimitingRoundTripperOpts {
	return RateLimitingRoundTripperOpts{
		Burst:       c.Burst,
		WaitTimeout: c.WaitTimeout,
		Adaptation: RateLimitingRoundTripperAdaptation{
			ResponseHeaderName: c.AdaptationResponseHeaderName,
			SlackPercent:       c.AdaptationSlackPercent,
		},
	}
}

// LoggerConfig represents configuration options for HTTP client logs.
type LoggerConfig struct {
	// Enabled is a flag that enables logging.
	Enabled bool `mapstructure:"enabled"`

	// SlowRequestThreshold is a threshold for slow requests.
	SlowRequestThreshold time.Duration `mapstructure:"slowRequestThreshold"`

	// Mode of logging: none, all, failed.
	Mode string `mapstructure:"mode"`
}

// Set is part of config interface implementation.
func (c *LoggerConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyLoggerEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	if !c.Enabled {
		return nil
	}

	slowRequestThreshold, err := dp.GetDuration(cfgKeyLoggerSlowRequestThreshold)
	if err != nil {
		return err
	}
	if slowRequestThreshold < 0 {
		return dp.WrapKeyErr(cfgKeyLoggerSlowRequestThreshold,
			errors.New("client logger slow request threshold can not be negative"))
	}
	c.SlowRequestThreshold = slowRequestThreshold

	mode, err := dp.GetStringFromSet(cfgKeyLoggerMode,
		[]string{string(LoggingModeNone), string(LoggingModeAll), string(LoggingModeFailed)}, true)
	if err != nil {
		return err
	}
	c.Mode = mode

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *LoggerConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyLoggerMode, string(LoggingModeFailed))
}

// TransportOpts returns transport options.
func (c *LoggerConfig) TransportOpts() LoggingRoundTripperOpts {
	return LoggingRoundTripperOpts{
		Mode:                 LoggingMode(c.Mode),
		SlowRequestThreshold: c.SlowRequestThreshold,
	}
}

// MetricsConfig represents configuration options for HTTP client metrics.
type MetricsConfig struct {
	// Enabled is a flag that enables metrics.
	Enabled bool `mapstructure:"enabled"`
}

// Set is part of config interface implementation.
func (c *MetricsConfig) Set(dp config.DataProvider) error {
	enabled, err := dp.GetBool(cfgKeyMetricsEnabled)
	if err != nil {
		return err
	}
	c.Enabled = enabled

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *MetricsConfig) SetProviderDefaults(_ config.DataProvider) {}

// Config represents options for HTTP client configuration.
type Config struct {
	// RateLimits is a configuration for HTTP client rate limits.
	RateLimits RateLimitConfig `mapstructure:"rateLimits"`

	// Logger is a configuration for HTTP client logs.
	Logger LoggerConfig `mapstructure:"logger"`

	// Metrics is a configuration for HTTP client metrics.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Timeout is the maximum time to wait for a request to be made.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxResponseBodySize limits the size of a response body that will be read.
	// Zero means no limit.
	MaxResponseBodySize config.ByteSize `mapstructure:"maxResponseBodySize"`

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
	return &Config{keyPrefix: keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// Set is part of config interface implementation.
func (c *Config) Set(dp config.DataProvider) error {
	timeout, err := dp.GetDuration(cfgKeyTimeout)
	if err != nil {
		return err
	}
	if timeout < 0 {
		return dp.WrapKeyErr(cfgKeyTimeout, errors.New("client timeout must not be negative"))
	}
	c.Timeout = timeout

	maxBodySize, err := dp.GetBytesCount(cfgKeyMaxResponseBodySize)
	if err != nil {
		return err
	}
	c.MaxResponseBodySize = maxBodySize

	if err = c.RateLimits.Set(dp); err != nil {
		return err
	}
	if err = c.Logger.Set(dp); err != nil {
		return err
	}
	if err = c.Metrics.Set(dp); err != nil {
		return err
	}

	return nil
}

// SetProviderDefaults is part of config interface implementation.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyTimeout, DefaultClientWaitTimeout)
	dp.SetDefault(cfgKeyMaxResponseBodySize, uint64(DefaultMaxResponseBodySize))
	c.RateLimits.SetProviderDefaults(dp)
	c.Logger.SetProviderDefaults(dp)
	c.Metrics.SetProviderDefaults(dp)
}
