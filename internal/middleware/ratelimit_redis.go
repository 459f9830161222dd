package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore using Redis, so limits are
// shared across API instances. It uses a fixed window counter: INCR on the
// key, EXPIRE on the first hit of a window.
//
// The store fails open: if Redis is unreachable the request is allowed and
// the error counter is incremented, because dropping traffic on a cache
// outage is worse than briefly losing the limit.
type RedisRateLimitStore struct {
	client  *redis.Client
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics attaches middleware metrics for fail-open accounting.
func (s *RedisRateLimitStore) WithMetrics(m *Metrics) *RedisRateLimitStore {
	s.metrics = m
	return s
}

// Allow implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("rate limit check failed, allowing request", "error", err)
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		return true, config.RequestsPerWindow, 0
	}

	// First hit of a window owns the expiry.
	if n == 1 {
		if err := s.client.Expire(ctx, key, config.WindowDuration).Err(); err != nil {
			slog.Warn("failed to set rate limit window expiry", "key", key, "error", err)
		}
	}

	count := int(n)
	if count <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - count, 0
	}

	retryAfter := s.retryAfter(ctx, key, config)
	return false, 0, retryAfter
}

// retryAfter reads the key's remaining TTL so blocked clients get an
// accurate Retry-After. Falls back to the full window on error.
func (s *RedisRateLimitStore) retryAfter(ctx context.Context, key string, config RateLimitConfig) int {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return int(config.WindowDuration / time.Second)
	}
	retryAfter := int(ttl / time.Second)
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return retryAfter
}
