package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to the local Redis on DB 15 and flushes it. Tests are
// skipped when Redis is not available.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	client.FlushDB(context.Background())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestLimiterAllowWithinLimit(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "id-1", rule)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "id-1", rule)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Error("request over the limit should be denied")
	}
}

func TestLimiterIsolatesIdentifiers(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}
	if allowed, _ := limiter.Allow(ctx, "id-1", rule); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "id-1", rule); allowed {
		t.Error("id-1 should be limited")
	}
	if allowed, _ := limiter.Allow(ctx, "id-2", rule); !allowed {
		t.Error("id-2 must not share id-1's budget")
	}
}

func TestLimiterRemaining(t *testing.T) {
	limiter := NewLimiter(newTestRedis(t))
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	remaining, err := limiter.Remaining(ctx, "id-1", rule)
	if err != nil || remaining != 5 {
		t.Errorf("expected full budget before any request, got %d (err=%v)", remaining, err)
	}

	_, _ = limiter.Allow(ctx, "id-1", rule)
	_, _ = limiter.Allow(ctx, "id-1", rule)

	remaining, err = limiter.Remaining(ctx, "id-1", rule)
	if err != nil || remaining != 3 {
		t.Errorf("expected 3 remaining, got %d (err=%v)", remaining, err)
	}
}
