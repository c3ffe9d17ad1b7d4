package resilience

import (
	"time"
)

// Checkpoint save defaults, used for any value the config leaves unset.
const (
	defaultSaveAttempts   = 3
	defaultSaveBackoff    = 500 * time.Millisecond
	defaultSaveMaxBackoff = 30 * time.Second
	defaultSaveMultiplier = 2.0
	defaultSaveJitter     = 0.25
)

// FromRetryConfig builds the exponential schedule for forced checkpoint
// saves from config values. Non-positive values take the defaults; a
// negative jitter fraction keeps the default jitter.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := RetryConfig{
		MaxAttempts:    defaultSaveAttempts,
		InitialBackoff: defaultSaveBackoff,
		MaxBackoff:     defaultSaveMaxBackoff,
		Multiplier:     defaultSaveMultiplier,
		JitterFraction: defaultSaveJitter,
	}
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FixedRetry returns a schedule of attempts tries that waits exactly delay
// between them. Fewer than one attempt is raised to one and a negative
// delay is treated as zero.
func FixedRetry(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:    max(attempts, 1),
		InitialBackoff: max(delay, 0),
		MaxBackoff:     max(delay, 0),
		Multiplier:     1,
	}
}
