// Package lock provides distributed mutual exclusion for aggregation runs.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker acquires and releases named locks with a TTL. Acquisition is
// non-blocking: a held lock is reported as not acquired, never as an
// error.
type Locker interface {
	// TryAcquire attempts to take the lock without blocking. Returns true
	// if this caller now holds it. The lock expires on its own after ttl.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lock early. Used on failed runs so a retry does
	// not have to wait out the TTL; successful runs deliberately let the
	// TTL expire to enforce a cooldown window.
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker on Redis SET NX with expiry, giving
// cross-process exclusion.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire attempts to take the lock without blocking.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock early.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// AggregationKey builds the lock key for an artist's global aggregation.
// The artist must already be normalized (see duel.NormalizeArtist) so
// spelling variants contend on the same lock.
func AggregationKey(artistKey string) string {
	return "aggregate_lock:" + artistKey
}
