package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the shared key-value backend interface. Jobs, cached results, rate
// windows, and lease locks all live behind it. Implementations must be safe
// for concurrent use across goroutines and service instances.
type Cache interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// IncrWindow atomically increments key and refreshes its expiry in a
	// single round trip, returning the post-increment count. The atomicity
	// matters: two concurrent callers must never both observe a
	// pre-increment count below the limit.
	IncrWindow(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// AcquireLock takes a lease-scoped mutual-exclusion lock (SET NX PX).
	// The token identifies the holder so a slow holder cannot release a
	// lock that has since expired and been re-acquired by someone else.
	AcquireLock(ctx context.Context, key, token string, lease time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWindow(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) AcquireLock(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, token, lease).Result()
}

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.client, []string{key}, token).Err()
}
