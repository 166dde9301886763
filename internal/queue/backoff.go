package queue

import "time"

const (
	// DefaultIdleThreshold is the number of consecutive empty drains before
	// the consumer loop starts sleeping
	DefaultIdleThreshold = 5

	// DefaultIdleInterval is the sleep applied once the loop is idle
	DefaultIdleInterval = 10 * time.Millisecond
)

// IdleBackoff decides how long the consumer loop waits after each drain.
// The zero value uses the defaults.
type IdleBackoff struct {
	Threshold int
	Interval  time.Duration

	emptyDrains int
	current     time.Duration
}

// NewIdleBackoff returns a policy that sleeps interval after threshold
// consecutive empty drains
func NewIdleBackoff(threshold int, interval time.Duration) IdleBackoff {
	return IdleBackoff{Threshold: threshold, Interval: interval}
}

// Observe records the size of the latest drain and returns the delay to
// apply before the next one. A non-empty drain resets the policy.
func (b *IdleBackoff) Observe(drained int) time.Duration {
	if drained > 0 {
		b.Reset()
		return 0
	}

	b.emptyDrains++
	if b.emptyDrains >= b.threshold() {
		b.current = b.interval()
	}
	return b.current
}

// Current returns the delay chosen by the last Observe
func (b *IdleBackoff) Current() time.Duration {
	return b.current
}

// EmptyDrains returns the number of consecutive empty drains observed
func (b *IdleBackoff) EmptyDrains() int {
	return b.emptyDrains
}

// Reset clears the idle counter and interval
func (b *IdleBackoff) Reset() {
	b.emptyDrains = 0
	b.current = 0
}

func (b *IdleBackoff) threshold() int {
	if b.Threshold <= 0 {
		return DefaultIdleThreshold
	}
	return b.Threshold
}

func (b *IdleBackoff) interval() time.Duration {
	if b.Interval <= 0 {
		return DefaultIdleInterval
	}
	return b.Interval
}
