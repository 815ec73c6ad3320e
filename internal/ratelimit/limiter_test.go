package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter on a local Redis instance. Tests that call
// this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewLimiter(client), client
}

func testRule(limit int) Rule {
	return Rule{Key: "rl:test:", Limit: limit, Window: 30 * time.Second}
}

func TestAllow_WithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(3)
	id := "within_" + time.Now().Format("150405.000000")

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, id, rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}

	allowed, err := l.Allow(ctx, id, rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("expected 4th request to be rate limited")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(5)
	id := "remaining_" + time.Now().Format("150405.000000")

	if n, _ := l.Remaining(ctx, id, rule); n != 5 {
		t.Errorf("expected 5 remaining before any request, got %d", n)
	}
	_, _ = l.Allow(ctx, id, rule)
	_, _ = l.Allow(ctx, id, rule)
	if n, _ := l.Remaining(ctx, id, rule); n != 3 {
		t.Errorf("expected 3 remaining, got %d", n)
	}
}

func TestCheck_ReportsRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := testRule(1)
	id := "check_" + time.Now().Format("150405.000000")

	if ok, wait := l.Check(ctx, id, rule); !ok || wait != 0 {
		t.Fatalf("first request: expected allowed with no wait, got ok=%v wait=%s", ok, wait)
	}

	ok, wait := l.Check(ctx, id, rule)
	if ok {
		t.Fatal("second request: expected rate limited")
	}
	if wait <= 0 || wait > rule.Window {
		t.Errorf("expected retry-after within (0, %s], got %s", rule.Window, wait)
	}
}

func TestAllow_FailsOpenWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	l := NewLimiter(client)

	allowed, err := l.Allow(context.Background(), "anyone", RuleFind)
	if err == nil {
		t.Fatal("expected a redis error")
	}
	if !allowed {
		t.Error("expected the limiter to fail open")
	}

	if ok, _ := l.Check(context.Background(), "anyone", RuleFind); !ok {
		t.Error("expected Check to fail open")
	}
}
