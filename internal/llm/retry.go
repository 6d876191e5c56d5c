package llm

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls retry of retryable provider errors with exponential
// backoff. A Retry-After hint from the provider overrides the computed delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// SleepFunc is injectable for tests; nil means sleep honoring ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry invokes fn until it succeeds, returns a non-retryable error, exhausts
// the policy, or the context ends.
func Retry(ctx context.Context, policy RetryPolicy, sleep SleepFunc, fn func() (Response, error)) (Response, error) {
	if sleep == nil {
		sleep = sleepWithContext
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, err
		}
		if !IsRetryable(err) || attempt == attempts {
			return Response{}, err
		}

		wait := delay
		var le Error
		if errors.As(err, &le) {
			if ra := le.RetryAfter(); ra != nil {
				wait = *ra
			}
		}
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		if err := sleep(ctx, wait); err != nil {
			return Response{}, err
		}
		mult := policy.Multiplier
		if mult < 1 {
			mult = 2
		}
		delay = time.Duration(float64(delay) * mult)
	}
	return Response{}, lastErr
}
