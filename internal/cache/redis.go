package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// redisKeyPrefix namespaces cache keys in Redis.
const redisKeyPrefix = "beancrawl:cache:"

// putScript stores the value only when the key is absent or already
// holds the same bytes. Returns 1 on store, 2 on idempotent repeat, and
// 0 on a collision.
var putScript = redis.NewScript(`
	local existing = redis.call("GET", KEYS[1])
	if existing == false then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	if existing == ARGV[1] then
		return 2
	end
	return 0
`)

// RedisCache shares cached results across processes through Redis,
// delegating expiry to key TTLs.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// redisKey builds the namespaced key for a (contentHash, field) pair.
func redisKey(contentHash, field string) string {
	return redisKeyPrefix + contentHash + ":" + field
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, contentHash, field string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, redisKey(contentHash, field)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(
	ctx context.Context,
	contentHash, field string,
	value []byte,
	ttl time.Duration,
) error {
	result, err := putScript.Run(
		ctx, c.client,
		[]string{redisKey(contentHash, field)},
		value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	if result == 0 {
		return fmt.Errorf("%w: hash %s field %s", domain.ErrCacheCollision, contentHash, field)
	}
	return nil
}
