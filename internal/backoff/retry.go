package backoff

import (
	"context"
	"errors"
)

// ErrNoAttempts is returned when maxAttempts is non-positive, so fn never runs.
var ErrNoAttempts = errors.New("backoff: maxAttempts must be positive")

// RetryResult holds the outcome of a RetryWithBackoff call.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// RetryWithBackoff executes fn up to maxAttempts times, sleeping between
// attempts per policy via SleepWithBackoff. fn receives the 1-indexed
// attempt number.
//
// Returns the result on success, the last error once attempts are
// exhausted, or ctx.Err() if the context is cancelled while waiting between
// attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]

	if maxAttempts <= 0 {
		result.LastError = ErrNoAttempts
		return result, ErrNoAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}
		result.LastError = err

		if attempt < maxAttempts {
			if sleepErr := SleepWithBackoff(ctx, policy, attempt); sleepErr != nil {
				result.LastError = sleepErr
				return result, sleepErr
			}
		}
	}

	return result, result.LastError
}
