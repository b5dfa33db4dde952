package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
)

const redisKeyPrefix = "xtmscope:cache:"

// RedisStore keeps a family's cache in one hash keyed by platform id.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store for family.
func NewRedisStore(client *redis.Client, family platforms.Family) *RedisStore {
	return &RedisStore{client: client, key: redisKeyPrefix + string(family)}
}

func (s *RedisStore) Get(ctx context.Context, platformID string) (EntityTypeCache, bool, error) {
	data, err := s.client.HGet(ctx, s.key, platformID).Bytes()
	if err == redis.Nil {
		return EntityTypeCache{}, false, nil
	}
	if err != nil {
		return EntityTypeCache{}, false, fmt.Errorf("failed to get cache: %w", err)
	}
	var c EntityTypeCache
	if err := json.Unmarshal(data, &c); err != nil {
		return EntityTypeCache{}, false, fmt.Errorf("failed to unmarshal cache for %s: %w", platformID, err)
	}
	return c, true, nil
}

func (s *RedisStore) Load(ctx context.Context) (MultiPlatformCache, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return MultiPlatformCache{}, fmt.Errorf("failed to load cache: %w", err)
	}
	out := MultiPlatformCache{Platforms: make(map[string]EntityTypeCache, len(all))}
	for id, raw := range all {
		var c EntityTypeCache
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return MultiPlatformCache{}, fmt.Errorf("failed to unmarshal cache for %s: %w", id, err)
		}
		out.Platforms[id] = c
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, platformID string, cache EntityTypeCache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, platformID, data).Err(); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, platformID string) error {
	return s.client.HDel(ctx, s.key, platformID).Err()
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) CleanupOrphaned(ctx context.Context, validIDs []string) ([]string, error) {
	stored, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	removed := orphans(stored, validIDs)
	if len(removed) == 0 {
		return nil, nil
	}
	pipe := s.client.TxPipeline()
	for _, id := range removed {
		pipe.HDel(ctx, s.key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to remove orphaned entries: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) Stats(ctx context.Context, now time.Time, maxAge time.Duration) ([]PlatformStats, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return statsFor(m, now, maxAge), nil
}
