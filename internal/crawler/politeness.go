package crawler

import (
	"context"
	"time"
)

// TimerPauser implements Pauser with a timer.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// DelayRange draws inter-request delays uniformly from [Min, Max].
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Next returns a random delay within the range.
func (r DelayRange) Next() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + randomDuration(r.Max-r.Min+1)
}
