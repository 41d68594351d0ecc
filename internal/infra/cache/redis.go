package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-news-engine/internal/infra/metrics"
)

// RedisCache реализует простые TTL-ключи и захват задач через Redis.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedis создаёт кэш.
func NewRedis(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Acquire захватывает ключ на ttl. Возвращает false, если ключ уже занят.
func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "lock", start, err)
	return ok, err
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке ключ освобождается.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := c.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(context.Background(), key).Err()
		return err
	}
	return nil
}
