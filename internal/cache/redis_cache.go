package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/cow-game/internal/logging"
)

// RedisCache — кеш поверх Redis. Делит клиент с хранилищем
// статистики, поэтому соединением не владеет.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *logging.Logger
}

// NewRedisCache оборачивает существующий клиент Redis.
// Все ключи получают префикс, чтобы не пересекаться со статистикой.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logging.GetStatsLogger(),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.logger.Warn("Cache read failed for %s: %v", key, err)
		return nil, ErrCacheMiss
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed for %s: %v", key, err)
		return err
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Close ничего не делает: клиент принадлежит вызывающему.
func (c *RedisCache) Close() error {
	return nil
}
