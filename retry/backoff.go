package retry

import (
	"context"
	"time"
)

// sleepFunc is overridable in tests to avoid real waits.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// backoffDelay returns the delay before attempt N (1-indexed): base for the
// first retry, doubling on each subsequent one when exponential is enabled.
func backoffDelay(base time.Duration, attempt int, exponential bool) time.Duration {
	if !exponential || attempt <= 1 {
		return base
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
