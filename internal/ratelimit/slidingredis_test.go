package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiterSlidingWindow(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := Limiter{Client: client, Prefix: "test:"}

	ctx := context.Background()
	window := 2 * time.Second
	const max = 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "key", window, max)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should fit within the limit", i)
		}
		if want := max - (i + 1); remaining != want {
			t.Fatalf("remaining after request %d = %d, want %d", i, remaining, want)
		}
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "key", window, max)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed || remaining != 0 {
		t.Fatalf("expected rejection with remaining 0, got allowed=%v remaining=%d", allowed, remaining)
	}

	// Old events age out once the window passes.
	mr.FastForward(window)
	allowed, _, _, err = limiter.Allow(ctx, "key", window, max)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed {
		t.Fatal("expected request after window to be allowed")
	}
}

func TestLimiterDisabledWithoutClient(t *testing.T) {
	limiter := Limiter{}
	allowed, remaining, _, err := limiter.Allow(context.Background(), "key", time.Second, 3)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed || remaining != 3 {
		t.Fatalf("expected nil client to disable limiting, got allowed=%v remaining=%d", allowed, remaining)
	}
}
