// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. It throttles message sends per user and WebSocket handshakes
// per remote address.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:send:", "rl:conn:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleSend allows 20 messages per 10 seconds per user.
	RuleSend = Rule{Key: "rl:send:", Limit: 20, Window: 10 * time.Second}

	// RuleConnect allows 10 WebSocket handshakes per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: 1 * time.Minute}

	// RuleLogin allows 10 login attempts per minute per IP.
	RuleLogin = Rule{Key: "rl:login:", Limit: 10, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, log: logger}
}

// Allow increments the counter for identifier under rule and reports whether
// the request is within the limit. On Redis errors it fails open (returns
// true) so that a Redis outage does not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("[ratelimit] redis INCR error, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	// The first increment opens the window.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("[ratelimit] redis EXPIRE error, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. It returns the full limit when the key does not exist or Redis
// fails.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn("[ratelimit] redis GET error, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	if remaining := rule.Limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
