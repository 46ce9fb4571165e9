package tasks

import (
	"context"
	"time"
)

// RetryPolicy is the explicit retry state for a task class: how many
// attempts are allowed and the base of the exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Backoff returns the delay before the given retry. attempt is
// zero-based: the first retry waits BaseDelay, doubling after that.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Default budgets. Detector runs and initial publications get the full
// budget; updates and cancellations are cheaper to re-trigger and get a
// smaller one.
var (
	runRetryPolicy     = RetryPolicy{MaxAttempts: 4, BaseDelay: time.Minute}
	publishRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: time.Minute}
	updateRetryPolicy  = RetryPolicy{MaxAttempts: 3, BaseDelay: 30 * time.Second}
	cancelRetryPolicy  = RetryPolicy{MaxAttempts: 3, BaseDelay: 30 * time.Second}
)

// sleeper waits out a backoff delay; injectable so tests don't wait.
type sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
