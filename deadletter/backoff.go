package deadletter

import (
	"math/rand"
	"time"

	"github.com/coinhaven/depositd/core"
)

const (
	minRetryDelay = time.Second
	jitterRatio   = 0.2
	// Rate-limited failures back off harder; hammering a throttled
	// dependency just extends the throttle.
	rateLimitedFactor = 3
)

// RetryDelay computes the wait before attempt retryCount+1: exponential in
// the retry count, capped at maxDelay, with +/-20% jitter and a one second
// floor so retries never spin hot.
func RetryDelay(kind core.FailureKind, retryCount int, base time.Duration, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	if kind == core.FailureRateLimited {
		base *= rateLimitedFactor
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitterSpan := int64(float64(delay) * jitterRatio)
	if jitterSpan > 0 {
		delay += time.Duration(rand.Int63n(2*jitterSpan) - jitterSpan)
	}
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	return delay
}
