package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/DenisArango/DENGO-POS-sub000/internal/cart"
)

type RedisCartStore struct {
	client *redis.Client
}

func NewRedisCartStore(addr string, password string, db int) *RedisCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCartStore{client: client}
}

func (c *RedisCartStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartStore) Close() error {
	return c.client.Close()
}

func (c *RedisCartStore) Get(ctx context.Context, key string) (*cart.Snapshot, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap cart.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisCartStore) Set(ctx context.Context, key string, value *cart.Snapshot, ttl time.Duration) error {
	if value == nil {
		return c.Delete(ctx, key)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCartStore) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
