package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"todo-api/internal/consts"
)

// RedisDeduper stores processed idempotency keys in Redis so a retried
// create request is rejected instead of committing a second task.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, consts.DeduperKeyPrefix+key, 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the store
// rejects the mutation so the caller may retry with the same key.
func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, consts.DeduperKeyPrefix+key).Err()
}
