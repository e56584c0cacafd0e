package wa

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second)

	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		d := b.Next()
		if d > 72*time.Second { // cap plus max jitter
			t.Fatalf("attempt %d: delay %v above cap with jitter", n, d)
		}
		if n < 4 && d < prev/2 {
			t.Errorf("attempt %d: delay %v shrank unexpectedly from %v", n, d, prev)
		}
		prev = d
	}
	if b.Attempt() != 10 {
		t.Errorf("Attempt() = %d, want 10", b.Attempt())
	}
}

func TestBackoffJitterWithinBounds(t *testing.T) {
	b := NewBackoff(10*time.Second, 60*time.Second)
	d := b.Next()
	if d < 8*time.Second || d > 12*time.Second {
		t.Errorf("first delay %v outside 10s ±20%%", d)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second)
	for n := 0; n < 5; n++ {
		b.Next()
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Errorf("Attempt() after Reset = %d, want 0", b.Attempt())
	}
	if d := b.Next(); d > 3*time.Second {
		t.Errorf("delay after Reset = %v, want back near base", d)
	}
}
