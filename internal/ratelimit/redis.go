package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the counter and arms its expiry on the first hit of a window.
// Returns {count, pttl_ms}.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter keeps counters in Redis; the key's TTL is the window.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
}

// NewRedisLimiter returns a limiter storing counters under prefix (e.g. "phoneauth:rl:").
func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

// Hit atomically increments key and reports whether the hit is within rule.
func (l *RedisLimiter) Hit(ctx context.Context, key string, rule Rule) (Result, error) {
	vals, err := hitScript.Run(ctx, l.client, []string{l.prefix + key}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	count := int(vals[0])
	return Result{
		Allowed:    count <= rule.Limit,
		Count:      count,
		RetryAfter: time.Duration(vals[1]) * time.Millisecond,
	}, nil
}
