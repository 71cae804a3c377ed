package conn

import "time"

// Backoff yields capped, non-decreasing retry delays: base, 2*base, 4*base, ... max.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

// NewBackoff returns a backoff starting at base and capped at max.
func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.base
	for i := 0; i < b.attempt && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	b.attempt++
	return delay
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset clears the retry counter after a successful open.
func (b *Backoff) Reset() {
	b.attempt = 0
}
