package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter.
// Jitter spreads retry attempts over time so a burst of failures does not
// come back as a burst of retries.
type ExponentialBackoff struct {
	BaseDelay  time.Duration // Initial delay (e.g., 60s)
	MaxDelay   time.Duration // Maximum delay (e.g., 1h)
	Multiplier float64       // Exponential multiplier (typically 2.0)
	Jitter     float64       // Jitter factor (0.0-1.0, typically 0.1 for ±10%)
}

// WebhookBackoff returns the backoff schedule for webhook delivery retries.
//
// Retry sequence (±10% jitter):
//   - Attempt 1: ~60s
//   - Attempt 2: ~2m
//   - Attempt 3: ~4m
//   - Attempt 4: ~8m
//   - capped at 1h
func WebhookBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  60 * time.Second,
		MaxDelay:   time.Hour,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// CommitRetryBackoff returns the schedule used when retrying a database
// commit after the processor already accepted the transaction:
// 50ms, 100ms, 200ms.
func CommitRetryBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
		Jitter:     0,
	}
}

// NextDelay calculates the delay for the given attempt number (1-indexed).
// Attempt values below 1 are treated as 1.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if max := float64(b.MaxDelay); b.MaxDelay > 0 && delay > max {
		delay = max
	}

	if b.Jitter > 0 {
		// Uniform jitter in [-Jitter, +Jitter]
		delta := delay * b.Jitter
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}
