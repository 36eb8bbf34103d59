// Package config loads process configuration for the exchange tools from
// an optional file, PREFIX_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/page-exchange/pkg/buffer"
	"github.com/Sternrassler/page-exchange/pkg/exchange"
	"github.com/Sternrassler/page-exchange/pkg/logging"
	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix is used when no prefix is given.
const DefaultEnvPrefix = "PAGE_EXCHANGE"

// Config is the full process configuration.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Transport TransportConfig `mapstructure:"transport"`
	Drain     DrainConfig     `mapstructure:"drain"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Status    StatusConfig    `mapstructure:"status"`
}

// ExchangeConfig mirrors exchange.Config. Sizes are strings such as
// "32MB" or "512KiB".
type ExchangeConfig struct {
	MaxBufferedBytes      string        `mapstructure:"max_buffered_bytes"`
	MaxResponseBytes      string        `mapstructure:"max_response_bytes"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	EmptyPollBackoff      time.Duration `mapstructure:"empty_poll_backoff"`
	MaxEmptyPollBackoff   time.Duration `mapstructure:"max_empty_poll_backoff"`
	AbortTimeout          time.Duration `mapstructure:"abort_timeout"`
	Retry                 RetryConfig   `mapstructure:"retry"`
}

// RetryConfig mirrors exchange.RetryConfig.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// TransportConfig mirrors buffer.Config.
type TransportConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// DrainConfig controls the consumer loop.
type DrainConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ProgressEvery int           `mapstructure:"progress_every"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig controls the /metrics endpoint; an empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RedisConfig configures the status store connection; an empty Addr
// disables status publishing.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StatusConfig controls status snapshot publishing.
type StatusConfig struct {
	Namespace       string        `mapstructure:"namespace"`
	TTL             time.Duration `mapstructure:"ttl"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
}

// Loader assembles a Config from its sources. Precedence, highest first:
// bound flags that were set, environment, config file, defaults.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a loader reading prefix_* environment variables, e.g.
// PAGE_EXCHANGE_EXCHANGE_MAX_CONCURRENT_REQUESTS.
func NewLoader(prefix string) *Loader {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, prefix: prefix}
}

// BindFlag makes flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads the optional config file at path and returns the merged
// configuration.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Load is a shortcut for NewLoader(prefix).Load(path).
func Load(path, prefix string) (*Config, error) {
	return NewLoader(prefix).Load(path)
}

func setDefaults(v *viper.Viper) {
	ex := exchange.DefaultConfig()
	v.SetDefault("exchange.max_buffered_bytes", units.BytesSize(float64(ex.MaxBufferedBytes)))
	v.SetDefault("exchange.max_response_bytes", units.BytesSize(float64(ex.MaxResponseBytes)))
	v.SetDefault("exchange.max_concurrent_requests", ex.MaxConcurrentRequests)
	v.SetDefault("exchange.request_timeout", ex.RequestTimeout)
	v.SetDefault("exchange.empty_poll_backoff", ex.EmptyPollBackoff)
	v.SetDefault("exchange.max_empty_poll_backoff", ex.MaxEmptyPollBackoff)
	v.SetDefault("exchange.abort_timeout", ex.AbortTimeout)
	v.SetDefault("exchange.retry.max_attempts", ex.Retry.MaxAttempts)
	v.SetDefault("exchange.retry.initial_backoff", ex.Retry.InitialBackoff)
	v.SetDefault("exchange.retry.max_backoff", ex.Retry.MaxBackoff)
	v.SetDefault("exchange.retry.backoff_multiplier", ex.Retry.BackoffMultiplier)

	tr := buffer.DefaultConfig()
	v.SetDefault("transport.timeout", tr.Timeout)
	v.SetDefault("transport.user_agent", tr.UserAgent)
	v.SetDefault("transport.requests_per_second", tr.RequestsPerSecond)
	v.SetDefault("transport.burst", tr.Burst)

	v.SetDefault("drain.poll_interval", time.Second)
	v.SetDefault("drain.progress_every", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("status.namespace", "default")
	v.SetDefault("status.ttl", 5*time.Minute)
	v.SetDefault("status.publish_interval", 5*time.Second)
}

// ToExchange converts the exchange section, parsing data sizes.
func (c *Config) ToExchange() (exchange.Config, error) {
	maxBuffered, err := units.RAMInBytes(c.Exchange.MaxBufferedBytes)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("exchange.max_buffered_bytes: %w", err)
	}
	maxResponse, err := units.RAMInBytes(c.Exchange.MaxResponseBytes)
	if err != nil {
		return exchange.Config{}, fmt.Errorf("exchange.max_response_bytes: %w", err)
	}

	return exchange.Config{
		MaxBufferedBytes:      maxBuffered,
		MaxResponseBytes:      maxResponse,
		MaxConcurrentRequests: c.Exchange.MaxConcurrentRequests,
		RequestTimeout:        c.Exchange.RequestTimeout,
		EmptyPollBackoff:      c.Exchange.EmptyPollBackoff,
		MaxEmptyPollBackoff:   c.Exchange.MaxEmptyPollBackoff,
		AbortTimeout:          c.Exchange.AbortTimeout,
		Retry: exchange.RetryConfig{
			MaxAttempts:       c.Exchange.Retry.MaxAttempts,
			InitialBackoff:    c.Exchange.Retry.InitialBackoff,
			MaxBackoff:        c.Exchange.Retry.MaxBackoff,
			BackoffMultiplier: c.Exchange.Retry.BackoffMultiplier,
		},
	}, nil
}

// ToBuffer converts the transport section.
func (c *Config) ToBuffer() buffer.Config {
	return buffer.Config{
		Timeout:           c.Transport.Timeout,
		UserAgent:         c.Transport.UserAgent,
		RequestsPerSecond: c.Transport.RequestsPerSecond,
		Burst:             c.Transport.Burst,
	}
}

// ToLogging converts the log section.
func (c *Config) ToLogging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Validate checks every section that has constraints.
func (c *Config) Validate() error {
	ex, err := c.ToExchange()
	if err != nil {
		return err
	}
	if err := ex.Validate(); err != nil {
		return err
	}
	if c.Transport.RequestsPerSecond < 0 {
		return fmt.Errorf("transport.requests_per_second must be >= 0 (got %v)", c.Transport.RequestsPerSecond)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Drain.PollInterval <= 0 {
		return fmt.Errorf("drain.poll_interval must be > 0 (got %v)", c.Drain.PollInterval)
	}
	return nil
}
