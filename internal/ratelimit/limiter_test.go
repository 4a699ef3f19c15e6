package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestAllow_NilClientFailsOpen(t *testing.T) {
	l := NewLimiter(nil)
	for i := 0; i < 100; i++ {
		if !l.Allow(context.Background(), "anyone", RuleMessage) {
			t.Fatal("nil-client limiter denied a request")
		}
	}
	if got := l.RetryAfter(context.Background(), "anyone", RuleMessage); got != 0 {
		t.Errorf("RetryAfter = %d with nil client, want 0", got)
	}
}

func TestAllow_NilLimiterFailsOpen(t *testing.T) {
	var l *Limiter
	if !l.Allow(context.Background(), "anyone", RuleJoin) {
		t.Fatal("nil limiter denied a request")
	}
}

// newTestLimiter connects to a local Redis; tests skip when unreachable.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func TestAllow_EnforcesLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 3, Window: 5 * time.Second}
	id := fmt.Sprintf("limit_%d", time.Now().UnixNano())

	for i := 0; i < rule.Limit; i++ {
		if !l.Allow(ctx, id, rule) {
			t.Fatalf("request %d denied, limit is %d", i+1, rule.Limit)
		}
	}
	if l.Allow(ctx, id, rule) {
		t.Error("request over the limit was allowed")
	}

	if retry := l.RetryAfter(ctx, id, rule); retry <= 0 || retry > int(rule.Window.Seconds()) {
		t.Errorf("RetryAfter = %d, want in (0,%d]", retry, int(rule.Window.Seconds()))
	}
}

func TestAllow_WindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}
	id := fmt.Sprintf("reset_%d", time.Now().UnixNano())

	if !l.Allow(ctx, id, rule) {
		t.Fatal("first request denied")
	}
	if l.Allow(ctx, id, rule) {
		t.Fatal("second request inside the window was allowed")
	}

	time.Sleep(1100 * time.Millisecond)
	if !l.Allow(ctx, id, rule) {
		t.Error("request after window expiry was denied")
	}
}
