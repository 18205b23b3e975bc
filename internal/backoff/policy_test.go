package backoff

import (
	"testing"
	"time"
)

func TestComputeBackoff_NoJitter(t *testing.T) {
	tests := []struct {
		name     string
		policy   BackoffPolicy
		attempt  int
		expected time.Duration
	}{
		{
			name:     "first attempt",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:  1,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "second attempt doubles",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:  2,
			expected: 200 * time.Millisecond,
		},
		{
			name:     "fifth attempt with factor 2",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:  5,
			expected: 1600 * time.Millisecond,
		},
		{
			name:     "clamped to max",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 500, Factor: 2, Jitter: 0},
			attempt:  10,
			expected: 500 * time.Millisecond,
		},
		{
			name:     "attempt 0 treated as 1",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "negative attempt treated as 1",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0},
			attempt:  -5,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "factor 1.5",
			policy:   BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 1.5, Jitter: 0},
			attempt:  3,
			expected: 225 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeBackoff(tt.policy, tt.attempt)
			if got != tt.expected {
				t.Errorf("ComputeBackoff() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestComputeBackoff_JitterRange(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.2}

	// For attempt 1: base = 100, max jitter = 100 * 0.2 = 20.
	minExpected := 100 * time.Millisecond
	maxExpected := 120 * time.Millisecond

	for i := 0; i < 100; i++ {
		got := ComputeBackoff(policy, 1)
		if got < minExpected || got > maxExpected {
			t.Errorf("ComputeBackoff() = %v, want in range [%v, %v]", got, minExpected, maxExpected)
		}
	}
}

func TestComputeBackoff_JitterClampsToMax(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 105, Factor: 1, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		got := ComputeBackoff(policy, 1)
		if got > 105*time.Millisecond {
			t.Errorf("ComputeBackoff() = %v, want clamped to <= 105ms", got)
		}
	}
}
