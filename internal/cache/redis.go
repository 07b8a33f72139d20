// Package cache кеширует справочные данные поиска в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

const optionsKey = "cache:flights:options"

// RedisCache хранит списки значений фильтров поиска.
type RedisCache struct {
	client     *redis.Client
	optionsTTL time.Duration
}

// NewRedisCache создаёт кеш поверх Redis по указанному адресу.
func NewRedisCache(addr string, optionsTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: addr}), optionsTTL)
}

// NewRedisCacheWithClient создаёт кеш поверх готового клиента.
func NewRedisCacheWithClient(client *redis.Client, optionsTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     client,
		optionsTTL: optionsTTL,
	}
}

// Ping проверяет доступность Redis.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetOptions возвращает закешированные списки или nil, если записи нет.
func (c *RedisCache) GetOptions(ctx context.Context) (*model.FilterOptions, error) {
	data, err := c.client.Get(ctx, optionsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get options: %w", err)
	}

	var opts model.FilterOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return &opts, nil
}

// SetOptions сохраняет списки на время optionsTTL.
func (c *RedisCache) SetOptions(ctx context.Context, opts model.FilterOptions) error {
	payload, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	return c.client.Set(ctx, optionsKey, payload, c.optionsTTL).Err()
}

// Close закрывает соединение с Redis.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
