package storage

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownBackend = errors.New("unknown cache backend")

// Store persists the entity cache of a single platform family. Writes are
// whole-entry replacements per platform id; the store never retries.
type Store interface {
	// Get returns the platform's cache. found is false when it was never refreshed.
	Get(ctx context.Context, platformID string) (cache EntityTypeCache, found bool, err error)
	// Load returns a snapshot of every platform of the family.
	Load(ctx context.Context) (MultiPlatformCache, error)
	// Set atomically replaces the platform's entry.
	Set(ctx context.Context, platformID string, cache EntityTypeCache) error
	Clear(ctx context.Context, platformID string) error
	ClearAll(ctx context.Context) error
	// CleanupOrphaned deletes every entry whose id is not in validIDs and
	// returns the removed ids.
	CleanupOrphaned(ctx context.Context, validIDs []string) ([]string, error)
	Stats(ctx context.Context, now time.Time, maxAge time.Duration) ([]PlatformStats, error)
}
