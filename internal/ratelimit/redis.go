package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces limiter keys in Redis.
const keyPrefix = "beancrawl:ratelimit:"

// acquireScript checks every window key against its limit and, only if
// all have headroom, increments them. All-or-nothing: a script runs
// atomically in Redis, so concurrent acquirers never see partial
// increments.
//
// KEYS: one key per window. ARGV: cost, then (limit, ttlMillis) per key.
var acquireScript = redis.NewScript(`
	local cost = tonumber(ARGV[1])
	for i = 1, #KEYS do
		local limit = tonumber(ARGV[2 * i])
		local current = tonumber(redis.call("GET", KEYS[i]) or "0")
		if current + cost > limit then
			return 0
		end
	end
	for i = 1, #KEYS do
		local ttl = tonumber(ARGV[2 * i + 1])
		local value = redis.call("INCRBY", KEYS[i], cost)
		if value == cost then
			redis.call("PEXPIRE", KEYS[i], ttl)
		end
	end
	return 1
`)

// RedisLimiter shares rate windows across processes through Redis.
type RedisLimiter struct {
	client   *redis.Client
	defaults Limits
	scopes   map[string]Limits
	now      func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, defaults Limits, scopes map[string]Limits) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		defaults: defaults,
		scopes:   scopes,
		now:      time.Now,
	}
}

// limitsFor resolves the limits that apply to a scope.
func (r *RedisLimiter) limitsFor(scope string) Limits {
	if l, ok := r.scopes[scope]; ok {
		return l
	}
	return r.defaults
}

// TryAcquire implements Limiter.
func (r *RedisLimiter) TryAcquire(ctx context.Context, scope string, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}

	limits := r.limitsFor(scope)
	if limits.Unlimited() {
		return true, nil
	}

	now := r.now()
	keys := make([]string, 0, len(windows))
	args := make([]any, 0, 1+2*len(windows))
	args = append(args, cost)

	for _, w := range windows {
		limit := limits.limitFor(w.name)
		if limit <= 0 {
			continue
		}
		start := w.start(now)
		keys = append(keys, fmt.Sprintf("%s%s:%s:%d", keyPrefix, scope, w.name, start.Unix()))
		// Keys expire one window after their boundary so stale windows
		// clean themselves up.
		ttl := start.Add(2 * w.size).Sub(now)
		args = append(args, limit, ttl.Milliseconds())
	}

	if len(keys) == 0 {
		return true, nil
	}

	result, err := acquireScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit acquire for scope %s: %w", scope, err)
	}

	return result == 1, nil
}

// AcquireBlocking implements Limiter.
func (r *RedisLimiter) AcquireBlocking(
	ctx context.Context,
	scope string,
	cost int,
	timeout time.Duration,
) error {
	return acquireBlocking(ctx, r, scope, cost, timeout)
}
