package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/trackduel/internal/duel"
)

// ErrCacheMiss is returned when no cached leaderboard exists for a key.
var ErrCacheMiss = errors.New("leaderboard cache miss")

// DefaultCacheTTL is how long a cached leaderboard stays valid. Reads
// tolerate slightly stale data; the view-triggered refresh catches up.
const DefaultCacheTTL = 5 * time.Minute

// cachedBoard is the CBOR wire shape of a cached leaderboard.
type cachedBoard struct {
	Entries  []duel.GlobalEntry `cbor:"entries"`
	CachedAt time.Time          `cbor:"cached_at"`
}

// Cache is a Redis-backed leaderboard cache with CBOR-encoded values.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new Cache. A non-positive ttl falls back to
// DefaultCacheTTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(artistKey string, limit int) string {
	return fmt.Sprintf("leaderboard:%s:%d", artistKey, limit)
}

// Get returns the cached leaderboard for an artist, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, artistKey string, limit int) ([]duel.GlobalEntry, error) {
	data, err := c.client.Get(ctx, cacheKey(artistKey, limit)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard cache: %w", err)
	}

	var board cachedBoard
	if err := cbor.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to decode cached leaderboard: %w", err)
	}
	return board.Entries, nil
}

// Set stores a leaderboard for an artist.
func (c *Cache) Set(ctx context.Context, artistKey string, limit int, entries []duel.GlobalEntry) error {
	data, err := cbor.Marshal(cachedBoard{Entries: entries, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode leaderboard: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(artistKey, limit), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write leaderboard cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached page for an artist. Called after a
// successful aggregation so readers see the new ranking promptly.
func (c *Cache) Invalidate(ctx context.Context, artistKey string) error {
	pattern := fmt.Sprintf("leaderboard:%s:*", artistKey)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to invalidate leaderboard cache: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan leaderboard cache keys: %w", err)
	}
	return nil
}
