package exchange

import (
	"fmt"
	"time"
)

// Config holds the exchange client configuration.
type Config struct {
	// MaxBufferedBytes caps the bytes held in the output queue plus the
	// bytes reserved for in-flight responses.
	MaxBufferedBytes int64

	// MaxResponseBytes is the size hint sent with every fetch.
	MaxResponseBytes int64

	// MaxConcurrentRequests bounds the fetches in flight across all locations.
	MaxConcurrentRequests int

	// RequestTimeout bounds a single fetch; zero disables the timeout.
	RequestTimeout time.Duration

	// Retry controls backoff after failed fetches.
	Retry RetryConfig

	// EmptyPollBackoff is the first delay after an empty response;
	// consecutive empty responses double it up to MaxEmptyPollBackoff.
	EmptyPollBackoff    time.Duration
	MaxEmptyPollBackoff time.Duration

	// AbortTimeout bounds the best-effort abort sent to unfinished remote
	// buffers on close; zero disables aborts.
	AbortTimeout time.Duration

	// Executor runs fetches. When nil the client creates and owns an
	// unbounded ants pool; concurrency is bounded by MaxConcurrentRequests.
	Executor Executor
}

// DefaultConfig returns the default exchange configuration.
func DefaultConfig() Config {
	return Config{
		MaxBufferedBytes:      32 << 20,
		MaxResponseBytes:      1 << 20,
		MaxConcurrentRequests: 3,
		RequestTimeout:        10 * time.Second,
		Retry:                 DefaultRetryConfig(),
		EmptyPollBackoff:      10 * time.Millisecond,
		MaxEmptyPollBackoff:   time.Second,
		AbortTimeout:          5 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxBufferedBytes <= 0 {
		return fmt.Errorf("max_buffered_bytes must be > 0 (got %d)", c.MaxBufferedBytes)
	}
	if c.MaxResponseBytes <= 0 {
		return fmt.Errorf("max_response_bytes must be > 0 (got %d)", c.MaxResponseBytes)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be > 0 (got %d)", c.MaxConcurrentRequests)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be >= 0 (got %v)", c.RequestTimeout)
	}
	if c.AbortTimeout < 0 {
		return fmt.Errorf("abort_timeout must be >= 0 (got %v)", c.AbortTimeout)
	}
	if c.EmptyPollBackoff <= 0 || c.MaxEmptyPollBackoff < c.EmptyPollBackoff {
		return fmt.Errorf("empty poll backoff must satisfy 0 < min <= max (got %v, %v)",
			c.EmptyPollBackoff, c.MaxEmptyPollBackoff)
	}
	return c.Retry.Validate()
}
