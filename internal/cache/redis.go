package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes a lock key only when it still holds our owner token,
// so a lock that expired and was re-acquired by another process is never
// released by us.
var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisCache is a Redis-backed implementation of Cache. It is the backend
// that makes the sync lock and cooldown flag effective across separate
// invocations (scheduler tick vs. manual CLI run).
type RedisCache struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return data, err
}

// Set stores a value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a value by key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// TryLock attempts to acquire a named lock via SET NX.
func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	owner := uuid.New().String()
	ok, err := c.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return owner, true, nil
}

// Lock acquires a named lock, polling until maxWait elapses.
func (c *RedisCache) Lock(ctx context.Context, key string, ttl, maxWait time.Duration) (string, bool, error) {
	deadline := time.Now().Add(maxWait)
	for {
		owner, ok, err := c.TryLock(ctx, key, ttl)
		if err != nil || ok {
			return owner, ok, err
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Unlock releases a named lock while it still holds the given owner token.
// The compare-and-delete script guarantees a lock that expired and was
// re-acquired by another process is never released by us.
func (c *RedisCache) Unlock(ctx context.Context, key, owner string) error {
	if owner == "" {
		return nil
	}
	return unlockScript.Run(ctx, c.client, []string{key}, owner).Err()
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
