// Package ratelimit throttles per-user actions with Redis INCR + EXPIRE
// counters. The relay applies it to chat messages, queue joins, and WebRTC
// signaling bursts. The limiter always fails open: a Redis outage slows
// nothing down, it only stops enforcing limits.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one throttling policy: the Redis key prefix, the maximum
// number of actions allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g. "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // window duration
}

// Rules applied by the relay.
var (
	// RuleMessage allows 10 chat messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleJoin allows 10 queue joins per minute per user.
	RuleJoin = Rule{Key: "rl:join:", Limit: 10, Window: 1 * time.Minute}

	// RuleSignal allows 60 signaling frames per 10 seconds per user — enough
	// for an ICE candidate burst, tight enough to stop relay abuse.
	RuleSignal = Rule{Key: "rl:sig:", Limit: 60, Window: 10 * time.Second}

	// RuleReport allows 5 report submissions per 10 minutes per user.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: 10 * time.Minute}
)

// Limiter performs rate limit checks against Redis. A Limiter with a nil
// client allows everything, so the relay can run without Redis configured.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client. client may
// be nil to disable limiting.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether identifier is within the limit defined by rule,
// incrementing the window counter. It returns false only on a definite limit
// hit; Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}

	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: redis INCR error key=%s: %v (failing open)", key, err)
		return true
	}

	// First increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The counter has no TTL and would throttle the identifier
			// forever; best effort delete.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}

// RetryAfter returns the seconds until the identifier's window for rule
// expires, for use in rate_limited responses. Returns the full window on any
// error.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) int {
	if l == nil || l.client == nil {
		return 0
	}

	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return int(rule.Window.Seconds())
	}
	return int(ttl.Seconds())
}
