package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
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
	return NewLimiter(client, nil)
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "u1", rule)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow() #%d: expected allowed", i)
		}
	}

	ok, err := l.Allow(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Fatal("expected 4th request to be limited")
	}

	remaining, err := l.Remaining(ctx, "u1", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}

func TestRemaining_UnknownIdentifier(t *testing.T) {
	l := newTestLimiter(t)
	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	remaining, err := l.Remaining(context.Background(), "nobody", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 5 {
		t.Errorf("expected 5 remaining, got %d", remaining)
	}
}

func TestAllow_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client, nil)

	ok, err := l.Allow(context.Background(), "u1", RuleSend)
	if err == nil {
		t.Fatal("expected redis error")
	}
	if !ok {
		t.Fatal("expected limiter to fail open")
	}
}
