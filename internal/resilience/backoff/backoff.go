package backoff

import (
	"math"
	"time"
)

// DefaultCap is the upper bound for any retry delay.
const DefaultCap = 8 * time.Second

// Calculator computes capped exponential delays: min(base * 2^attempt, Cap).
type Calculator struct {
	Cap time.Duration
}

// Default returns a Calculator with the 8s cap.
func Default() Calculator {
	return Calculator{Cap: DefaultCap}
}

// Delay returns the wait before the next attempt. attempt counts prior
// attempts (0 for the first failure). Negative attempts count as 0.
func (c Calculator) Delay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	limit := c.Cap
	if limit <= 0 {
		limit = DefaultCap
	}

	// float math saturates instead of overflowing for large attempts
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(limit) {
		return limit
	}
	return time.Duration(delay)
}

// Delay uses the default 8s cap.
func Delay(base time.Duration, attempt int) time.Duration {
	return Default().Delay(base, attempt)
}
