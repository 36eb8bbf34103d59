package exchange

import (
	"testing"
	"time"
)

func TestNewBackOff(t *testing.T) {
	b := newBackOff(100*time.Millisecond, 400*time.Millisecond, 2.0)

	bases := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	for i, base := range bases {
		got := b.NextBackOff()
		low := time.Duration(float64(base)*(1-backoffJitter)) - time.Millisecond
		high := time.Duration(float64(base)*(1+backoffJitter)) + time.Millisecond
		if got < low || got > high {
			t.Errorf("attempt %d: backoff = %v, want within [%v, %v]", i+1, got, low, high)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got > 121*time.Millisecond {
		t.Errorf("after Reset backoff = %v, want about 100ms", got)
	}
}

func TestNewBackOff_NeverStops(t *testing.T) {
	b := newBackOff(time.Millisecond, time.Millisecond, 2.0)
	for i := 0; i < 1000; i++ {
		if d := b.NextBackOff(); d <= 0 {
			t.Fatalf("NextBackOff() = %v on call %d", d, i+1)
		}
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
}
