package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector backs ReplayProtector with Redis SETNX. A nil client
// disables the guard entirely, which keeps single-process setups working
// without Redis.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire claims the delivery key for ttl. It reports false when another
// worker already holds the key.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release drops the guard key so the delivery can be retried early.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}
