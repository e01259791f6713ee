package ratelimit

import (
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestAllowRefills(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	l := New(2, time.Minute, WithClock(clock.now))
	defer l.Stop()

	if !l.Allow("1.2.3.4") || !l.Allow("1.2.3.4") {
		t.Fatal("first two requests should pass")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("third request within the window should be rejected")
	}
	if !l.Allow("5.6.7.8") {
		t.Fatal("other clients have their own bucket")
	}

	clock.t = clock.t.Add(30 * time.Second)
	if !l.Allow("1.2.3.4") {
		t.Fatal("half a window refills one token")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("only one token should have refilled")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	l := New(1, time.Minute, WithClock(clock.now))
	defer l.Stop()

	l.Allow("a")
	clock.t = clock.t.Add(3 * time.Minute)
	l.sweep()

	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("buckets = %d, want 0", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(1, time.Second)
	l.Stop()
	l.Stop()
}
