// Package outbox implements the reliability pipeline: transactional event
// writes, fan-out scheduling of webhook deliveries and a claiming worker that
// signs and sends them.
package outbox

import "time"

// Backoff returns the wait duration before the given attempt.
type Backoff func(attempt int) time.Duration

// Exponential creates a capped exponential backoff function. It is
// deterministic for a fixed attempt count, so tests and the worker agree on
// the exact schedule.
func Exponential(base time.Duration, factor float64, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return base
		}
		d := float64(base)
		for i := 1; i < attempt; i++ {
			d *= factor
			if time.Duration(d) >= max {
				return max
			}
		}
		delay := time.Duration(d)
		if delay > max {
			return max
		}
		if delay < base {
			return base
		}
		return delay
	}
}
