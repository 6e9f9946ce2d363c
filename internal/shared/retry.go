package shared

import (
	"context"
	"time"
)

// RetryPolicy bounds a retried operation.
type RetryPolicy struct {
	MaxAttempts int
	// Delay returns the wait before the given (1-based) retry attempt.
	Delay func(attempt int) time.Duration
}

// FixedDelay returns a policy waiting d between each of attempts tries.
func FixedDelay(attempts int, d time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: func(int) time.Duration { return d }}
}

// Retry calls fn until it succeeds, the attempts run out, or ctx is done.
//
// The last error from fn is returned when every attempt fails.
func Retry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Delay != nil {
			wait = p.Delay(attempt)
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
