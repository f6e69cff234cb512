package resilience

import (
	"context"
	"time"
)

// RetryPolicy is a fixed-interval, bounded retry. Attempts counts the first
// try, so Attempts=3 means at most two retries.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
	// OnRetry runs before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func NewRetryPolicy(attempts int, interval time.Duration) RetryPolicy {
	if attempts <= 0 {
		attempts = 3
	}
	if interval <= 0 {
		interval = 4 * time.Second
	}
	return RetryPolicy{Attempts: attempts, Interval: interval}
}

// Do runs fn until it succeeds, the attempts are spent, or ctx is done.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if r.OnRetry != nil {
			r.OnRetry(i, err, r.Interval)
		}
		timer := time.NewTimer(r.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
