package redis

import (
	"beacon_p2p/internal/config"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	// RedisService is a thin key-prefixed wrapper used by the Storage
	// backend and the relay offline queue.
	RedisService struct {
		rdb    *redis.Client
		prefix string
	}
)

func NewRedis(rdb *redis.Client, prefix string) *RedisService {
	return &RedisService{
		rdb:    rdb,
		prefix: prefix,
	}
}

// Dial connects to the configured Redis and pings it.
func Dial(ctx context.Context, c config.StorageConfig) (*RedisService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", c.RedisAddr, err)
	}
	return NewRedis(rdb, c.KeyPrefix), nil
}

func (r *RedisService) key(k string) string { return r.prefix + k }

func (r *RedisService) RPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.RPush(ctx, r.key(key), value...).Err()
}

// Drain returns every element of a list and deletes it in one transaction.
func (r *RedisService) Drain(ctx context.Context, key string) ([]string, error) {
	var lr *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lr = p.LRange(ctx, r.key(key), 0, -1)
		p.Del(ctx, r.key(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lr.Val(), nil
}

func (r *RedisService) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

// Get returns ok=false when the key does not exist.
func (r *RedisService) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}
