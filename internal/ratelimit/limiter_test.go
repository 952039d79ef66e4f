package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis and wipes test rate-limit keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:*:test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_UnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:queue:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "test_under", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:queue:", Limit: 2, Window: time.Minute}

	limiter.Allow(ctx, "test_over", rule)
	limiter.Allow(ctx, "test_over", rule)

	allowed, err := limiter.Allow(ctx, "test_over", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("expected third request to be limited")
	}

	if ra := limiter.RetryAfter(ctx, "test_over", rule); ra <= 0 || ra > 60 {
		t.Errorf("expected RetryAfter in (0,60], got %d", ra)
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:report:", Limit: 5, Window: time.Minute}

	remaining, err := limiter.Remaining(ctx, "test_rem", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("expected full limit 5 before any requests, got %d", remaining)
	}

	limiter.Allow(ctx, "test_rem", rule)
	limiter.Allow(ctx, "test_rem", rule)

	remaining, err = limiter.Remaining(ctx, "test_rem", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 3 {
		t.Errorf("expected 3 remaining after 2 requests, got %d", remaining)
	}
}

func TestIndependentIdentifiers(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:queue:", Limit: 1, Window: time.Minute}

	limiter.Allow(ctx, "test_ind_a", rule)
	if allowed, _ := limiter.Allow(ctx, "test_ind_a", rule); allowed {
		t.Error("expected test_ind_a to be limited")
	}

	allowed, err := limiter.Allow(ctx, "test_ind_b", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Error("expected test_ind_b to be unaffected by test_ind_a's limit")
	}
}
