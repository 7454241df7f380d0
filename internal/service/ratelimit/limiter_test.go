package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterPerKey(t *testing.T) {
	clock := time.Unix(0, 0)
	l := New(60, 2)
	l.now = func() time.Time { return clock }

	if !l.Allow("BTC") || !l.Allow("BTC") {
		t.Fatalf("burst of 2 should be allowed")
	}
	if l.Allow("BTC") {
		t.Fatalf("third order within the same instant should be throttled")
	}
	if !l.Allow("ETH") {
		t.Fatalf("keys must not share a bucket")
	}

	clock = clock.Add(time.Second)
	if !l.Allow("BTC") {
		t.Fatalf("one token should refill after a second at 60/min")
	}
}
