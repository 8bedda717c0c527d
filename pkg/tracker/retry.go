package tracker

import (
	"context"
	"math"
	"time"
)

const (
	maxAttempts = 6
	maxBackoff  = 60 * time.Second
)

// backoff returns the sleep before attempt n (1-based): 1s * 2^(n-1),
// capped.
func backoff(attempts int, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	seconds := math.Pow(2, float64(attempts-1))
	d := time.Duration(seconds * float64(time.Second))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// sleepFn is swapped out in tests to avoid real backoff waits.
var sleepFn = sleep

// sleep waits for d or until the context is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
