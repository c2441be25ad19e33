package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

const (
	productKeyPrefix = "catalog:product:"
	DefaultCacheTTL  = 30 * time.Second
)

// RedisProductCache keeps product detail payloads keyed by slug. Stock in a
// cached entry may be stale by up to the TTL; checkout never reads it.
type RedisProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProductCache(client *redis.Client, ttl time.Duration) *RedisProductCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisProductCache{client: client, ttl: ttl}
}

// Get returns (nil, nil) on a cache miss.
func (c *RedisProductCache) Get(ctx context.Context, slug string) (*domain.Product, error) {
	raw, err := c.client.Get(ctx, productKeyPrefix+slug).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *RedisProductCache) Set(ctx context.Context, p *domain.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKeyPrefix+p.Slug, raw, c.ttl).Err()
}
