package processor

import (
	"math"
	"math/rand"
	"time"

	"github.com/outboxrelay/relay/internal/config"
)

// CalculateRetryDelay implements spec.md §4.4's retry-delay arithmetic:
// clamp(initial_delay * multiplier^(attempt-1) + jitter, 0, max_delay), where
// jitter is uniform in [-jitter_ratio*delay, +jitter_ratio*delay] when
// enabled.
func CalculateRetryDelay(cfg config.RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))

	if cfg.Jitter && cfg.JitterRatio > 0 {
		span := delay * cfg.JitterRatio
		delay += (rand.Float64()*2 - 1) * span
	}
	if delay < 0 {
		delay = 0
	}

	d := time.Duration(delay)
	if max := cfg.MaxDelay; max > 0 && d > max {
		d = max
	}
	return d
}
