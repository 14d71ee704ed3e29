package server

import (
	"beacon_p2p/internal/service/redis"
	"context"
	"fmt"
	"sync"
)

// Queue holds frames for users that are offline.
type Queue interface {
	Push(ctx context.Context, to string, frames ...[]byte) error
	Drain(ctx context.Context, to string) ([][]byte, error)
}

type RedisQueue struct {
	redisService *redis.RedisService
}

func NewRedisQueue(svc *redis.RedisService) *RedisQueue {
	return &RedisQueue{redisService: svc}
}

func queueKey(to string) string {
	return fmt.Sprintf("to:%s", to)
}

func (q *RedisQueue) Drain(ctx context.Context, to string) ([][]byte, error) {
	vals, err := q.redisService.Drain(ctx, queueKey(to))
	if err != nil {
		return nil, err
	}
	res := make([][]byte, 0, len(vals))
	for _, v := range vals {
		res = append(res, []byte(v))
	}
	return res, nil
}

func (q *RedisQueue) Push(ctx context.Context, to string, frames ...[]byte) error {
	if len(frames) == 0 {
		return nil
	}
	vals := make([]any, 0, len(frames))
	for _, f := range frames {
		vals = append(vals, f)
	}
	return q.redisService.RPush(ctx, queueKey(to), vals...)
}

type MemoryQueue struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{frames: make(map[string][][]byte)}
}

func (q *MemoryQueue) Push(_ context.Context, to string, frames ...[]byte) error {
	q.mu.Lock()
	q.frames[to] = append(q.frames[to], frames...)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Drain(_ context.Context, to string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.frames[to]
	delete(q.frames, to)
	return out, nil
}
