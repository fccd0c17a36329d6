package utils

import (
	"math/rand"
	"time"
)

// Backoff computes a jittered exponential delay for the given attempt
// (0-based): a random duration in (0, base*2^attempt], capped at max.
// The full jitter keeps contending writers from re-colliding in
// lockstep.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d))) + time.Millisecond
}

// RetryDelaySeconds computes the re-dispatch delay for the given retry
// count: baseSeconds*2^retryCount capped at maxSeconds. This is
// business-level backoff, distinct from the CAS backoff above.
func RetryDelaySeconds(retryCount, baseSeconds, maxSeconds int) int {
	d := baseSeconds << uint(retryCount)
	if d > maxSeconds || d <= 0 {
		return maxSeconds
	}
	return d
}
