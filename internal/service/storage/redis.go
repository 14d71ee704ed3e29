package storage

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/service/redis"
	"context"
)

// Redis stores engine state in Redis. Values never expire.
type Redis struct {
	svc *redis.RedisService
}

func NewRedis(svc *redis.RedisService) *Redis {
	return &Redis{svc: svc}
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	v, ok, err := r.svc.Get(ctx, string(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	return []byte(v), nil
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte) error {
	return r.svc.Set(ctx, string(key), value, 0)
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.svc.Del(ctx, string(key))
}
