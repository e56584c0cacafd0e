package wa

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff produces capped exponential reconnect delays with jitter.
// Transient disconnects retry indefinitely; the growing delay only
// bounds how hard the daemon hammers the network, it never gives up.
type Backoff struct {
	base time.Duration
	cap  time.Duration

	mu      sync.Mutex
	attempt int
}

// NewBackoff creates a backoff starting at base and capped at cap.
func NewBackoff(base, cap time.Duration) *Backoff {
	return &Backoff{base: base, cap: cap}
}

// Next returns the delay before the next attempt and advances the
// attempt counter. The delay doubles per attempt up to the cap, with
// ±20% jitter so a fleet of daemons does not reconnect in lockstep.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.base << b.attempt
	if d > b.cap || d < b.base { // overflow guard on the shift
		d = b.cap
	}
	b.attempt++

	jitter := d / 5
	if jitter > 0 {
		d = d - jitter + rand.N(2*jitter)
	}
	return d
}

// Attempt returns how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Reset zeroes the attempt counter after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
