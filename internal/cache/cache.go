package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the session-token cache interface. Room Service session tokens
// are keyed per tenant and user so that concurrent calls for the same user
// converge on a single credential. Implementations must be safe for
// concurrent use.
type Cache interface {
	GetSessionToken(ctx context.Context, tenantID, crmUserID int64) (string, bool, error)
	SetSessionToken(ctx context.Context, tenantID, crmUserID int64, token string, ttl time.Duration) error
	DeleteSessionToken(ctx context.Context, tenantID, crmUserID int64) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetSessionToken(ctx context.Context, tenantID, crmUserID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, SessionTokenKey(tenantID, crmUserID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetSessionToken is an upsert: the last login wins, which is the correct
// outcome when two concurrent calls both performed the exchange.
func (c *RedisCache) SetSessionToken(ctx context.Context, tenantID, crmUserID int64, token string, ttl time.Duration) error {
	return c.client.Set(ctx, SessionTokenKey(tenantID, crmUserID), token, ttl).Err()
}

func (c *RedisCache) DeleteSessionToken(ctx context.Context, tenantID, crmUserID int64) error {
	return c.client.Del(ctx, SessionTokenKey(tenantID, crmUserID)).Err()
}
