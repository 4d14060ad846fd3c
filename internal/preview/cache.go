package preview

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinoosan/magnetron/internal/data"
)

// Cache stores resolved previews by info-hash.
type Cache interface {
	Get(ctx context.Context, hash string) (*data.Preview, bool, error)
	Set(ctx context.Context, hash string, p *data.Preview) error
}

const redisKeyPrefix = "magnetron:preview:"

// RedisCache keeps previews in Redis with a fixed TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL and verifies the connection.
func NewRedisCacheFromURL(ctx context.Context, rawURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisCache(rdb, ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, hash string) (*data.Preview, bool, error) {
	b, err := c.rdb.Get(ctx, redisKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p data.Preview
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, hash string, p *data.Preview) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, redisKeyPrefix+hash, b, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
