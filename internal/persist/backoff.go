package persist

import (
	"time"
)

// backoff doubles the retry interval after each failure up to a fixed
// ceiling, and resets to the base on success.
type backoff struct {
	base    time.Duration
	ceiling time.Duration
	next    time.Duration
}

func newBackoff(base, ceiling time.Duration) *backoff {
	return &backoff{base: base, ceiling: ceiling, next: base}
}

// Next returns the current retry interval and doubles the following one.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.ceiling {
		b.next = b.ceiling
	}
	return d
}

// Reset restores the base interval.
func (b *backoff) Reset() {
	b.next = b.base
}
