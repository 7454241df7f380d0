package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type point struct {
	X int     `json:"x"`
	Y float64 `json:"y"`
}

func TestMemoryCacheRoundTripTyped(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "p", point{X: 1, Y: 2.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got point
	if err := mc.Get(ctx, "p", &got); err != nil || got.X != 1 || got.Y != 2.5 {
		t.Fatalf("unexpected %+v err=%v", got, err)
	}
}

func TestMemoryCacheExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	clock := time.Unix(1000, 0)
	mc.now = func() time.Time { return clock }

	_ = mc.Set(ctx, "a", 1, time.Second)
	clock = clock.Add(time.Millisecond)
	_ = mc.Set(ctx, "b", 2, time.Minute)
	clock = clock.Add(time.Millisecond)
	_ = mc.Set(ctx, "c", 3, time.Minute) // evicts a

	var v int
	if err := mc.Get(ctx, "a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected a evicted, got %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := mc.Get(ctx, "b", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected b expired, got %v", err)
	}
}

func TestLayeredWithoutRemote(t *testing.T) {
	ctx := context.Background()
	lc := NewLayeredCache(nil)
	defer lc.Close()
	_ = lc.Set(ctx, "k", point{X: 7}, time.Minute)
	var got point
	if err := lc.Get(ctx, "k", &got); err != nil || got.X != 7 {
		t.Fatalf("unexpected %+v err=%v", got, err)
	}
	_ = lc.Delete(ctx, "k")
	if err := lc.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestLayeredFallsBackToRemote(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache()
	lc := NewLayeredCache(remote)
	defer lc.Close()

	_ = remote.Set(ctx, "k", point{X: 9}, time.Minute)
	var got point
	if err := lc.Get(ctx, "k", &got); err != nil || got.X != 9 {
		t.Fatalf("expected remote hit, got %+v err=%v", got, err)
	}
}
