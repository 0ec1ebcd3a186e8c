/**
 * @description
 * Distributed rate limiting for transfer initiation, shared across service
 * instances through Redis. The limiter is a fixed-window counter: one key per
 * (scope, account), atomically incremented and expired by a Lua script so the
 * first request in a window also arms the TTL. Callers fail open when Redis
 * is unreachable; throttling is protection, not correctness.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script execution.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Increments the window counter and arms the TTL on first use. Returns the
// counter value and the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RedisTransferRateLimiter throttles transfer initiations per sender account.
type RedisTransferRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTransferRateLimiter(client redis.UniversalClient, prefix string) *RedisTransferRateLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "rosstax:rate_limit"
	}
	return &RedisTransferRateLimiter{client: client, prefix: p}
}

// ConsumeRateLimit counts one request against the subject's window and
// reports the running count plus the seconds until the window resets. A nil
// limiter, missing client, or blank identifiers short-circuit to "allowed".
func (r *RedisTransferRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)
	reply, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	hits, remainingMs, err := parseLimiterReply(reply)
	if err != nil {
		return 0, 0, err
	}
	if remainingMs < 0 {
		remainingMs = windowMs
	}

	// Round the reset up to whole seconds for the Retry-After header.
	retryAfter := int((remainingMs + 999) / 1000)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(hits), retryAfter, nil
}

func parseLimiterReply(reply interface{}) (hits, remainingMs int64, err error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter reply shape: %T", reply)
	}
	hits, ok = values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	remainingMs, ok = values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected limiter ttl type: %T", values[1])
	}
	return hits, remainingMs, nil
}
