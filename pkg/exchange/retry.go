package exchange

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffJitter randomizes every delay by ±20%.
const backoffJitter = 0.2

// RetryConfig holds the configuration for retrying failed fetches.
type RetryConfig struct {
	// MaxAttempts is the number of consecutive failed attempts (including
	// the first) after which a location fails.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// BackoffMultiplier is the growth factor between attempts.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Validate checks the retry configuration.
func (r RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1 (got %d)", r.MaxAttempts)
	}
	if r.InitialBackoff <= 0 {
		return fmt.Errorf("retry initial_backoff must be > 0 (got %v)", r.InitialBackoff)
	}
	if r.MaxBackoff < r.InitialBackoff {
		return fmt.Errorf("retry max_backoff %v is below initial_backoff %v", r.MaxBackoff, r.InitialBackoff)
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff_multiplier must be >= 1 (got %v)", r.BackoffMultiplier)
	}
	return nil
}

// newBackOff returns a jittered exponential backoff that never gives up on
// its own; callers count attempts.
func newBackOff(initial, max time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: backoffJitter,
		Multiplier:          multiplier,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
