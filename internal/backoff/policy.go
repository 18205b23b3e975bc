// Package backoff provides the exponential-backoff-with-jitter math and the
// sleep/retry helpers built on top of it, shared by the transport's
// unbounded reconnect loop and the REST client's bounded read-retry path.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for exponential backoff calculation.
type BackoffPolicy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// ComputeBackoff calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random()
// Returns min(maxMs, base + jitter) as a time.Duration.
// Attempt numbers start at 1.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	exp := math.Max(float64(attempt-1), 0)

	base := policy.InitialMs * math.Pow(policy.Factor, exp)

	jitterAmount := base * policy.Jitter * rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness

	total := math.Min(policy.MaxMs, base+jitterAmount)

	return time.Duration(math.Round(total)) * time.Millisecond
}
