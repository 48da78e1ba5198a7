package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// releaseScript deletes the key only if it still holds our token, so a lock that
// expired and was taken by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCache wraps the Redis client used for cross-instance coordination
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis client and checks the connection
func NewRedisCache(redisURL string, log *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Info("Redis connection established")
	return NewRedisCacheFromClient(client), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// SetNX sets a value only if key doesn't exist
func (c *RedisCache) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RedisLocker serializes work on a key across service instances with SET NX PX.
// The lease bounds how long a crashed holder can block others.
type RedisLocker struct {
	cache     *RedisCache
	prefix    string
	lease     time.Duration
	retryWait time.Duration
}

func NewRedisLocker(cache *RedisCache, prefix string, lease time.Duration) *RedisLocker {
	return &RedisLocker{
		cache:     cache,
		prefix:    prefix,
		lease:     lease,
		retryWait: 25 * time.Millisecond,
	}
}

// Lock blocks until the key is held or ctx is done. The returned func releases it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.cache.SetNX(ctx, redisKey, token, l.lease)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(l.retryWait):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.cache.client, []string{redisKey}, token).Err()
	}, nil
}
