// Package backoff provides exponential backoff with jitter for the
// bridge's retry paths: the Slack reconnect loop and agent stream
// retries.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// BackoffPolicy defines the exponential backoff parameters.
type BackoffPolicy struct {
	// InitialMs is the first delay in milliseconds.
	InitialMs float64
	// MaxMs clamps the computed delay.
	MaxMs float64
	// Factor multiplies the delay per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0).
	Jitter float64
}

// ComputeBackoff returns the delay before the given attempt. Attempts
// are 1-indexed; the delay is initialMs * factor^(attempt-1) plus
// jitter, clamped to MaxMs.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return computeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

func computeWithRand(policy BackoffPolicy, attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*random)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// SleepWithContext sleeps for the duration or until ctx is cancelled,
// returning ctx.Err() in the latter case.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryResult reports how a retried operation concluded.
type RetryResult[T any] struct {
	Value    T
	Attempts int
	// LastError is the error from the final failed attempt.
	LastError error
}

// RetryWithBackoff runs fn up to maxAttempts times, sleeping per the
// policy between failures. fn receives the 1-indexed attempt number.
// Context cancellation is checked before each attempt and during sleeps.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			result.LastError = nil
			return result, nil
		}
		result.LastError = err

		if attempt < maxAttempts {
			if err := SleepWithContext(ctx, ComputeBackoff(policy, attempt)); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
