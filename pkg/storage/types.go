package storage

import (
	"sort"
	"time"
)

// CachedEntity is the minimal projection of a remote record kept for text
// matching and for re-fetching full detail later by id.
type CachedEntity struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	ExternalID string   `json:"externalId,omitempty"`
	Type       string   `json:"type"`
	PlatformID string   `json:"platformId"`
}

// EntityTypeCache holds one platform's cached entities grouped by type.
// Timestamp (epoch ms) is the last successful full refresh; TypeTimestamps
// tracks the last successful fetch of each type.
type EntityTypeCache struct {
	Timestamp      int64                     `json:"timestamp"`
	Entities       map[string][]CachedEntity `json:"entities"`
	TypeTimestamps map[string]int64          `json:"typeTimestamps,omitempty"`
}

// Total returns the number of entities across all types.
func (c EntityTypeCache) Total() int {
	n := 0
	for _, list := range c.Entities {
		n += len(list)
	}
	return n
}

// Types returns the cached type names in sorted order.
func (c EntityTypeCache) Types() []string {
	types := make([]string, 0, len(c.Entities))
	for t := range c.Entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Age returns how long ago the cache was last fully refreshed.
func (c EntityTypeCache) Age(now time.Time) time.Duration {
	if c.Timestamp == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(c.Timestamp))
}

// MultiPlatformCache is the persisted root for one platform family.
type MultiPlatformCache struct {
	Platforms map[string]EntityTypeCache `json:"platforms"`
}

// PlatformIDs returns the cached platform ids in sorted order.
func (m MultiPlatformCache) PlatformIDs() []string {
	ids := make([]string, 0, len(m.Platforms))
	for id := range m.Platforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Freshness is computed at read time from a stored timestamp.
type Freshness string

const (
	FreshnessNever Freshness = "never"
	FreshnessStale Freshness = "stale"
	FreshnessFresh Freshness = "fresh"
)

// FreshnessOf classifies a cache entry. A missing entry is never refreshed.
func FreshnessOf(c EntityTypeCache, found bool, now time.Time, maxAge time.Duration) Freshness {
	if !found || c.Timestamp == 0 {
		return FreshnessNever
	}
	if maxAge > 0 && c.Age(now) > maxAge {
		return FreshnessStale
	}
	return FreshnessFresh
}

// PlatformStats is the observability view of one platform's cache.
type PlatformStats struct {
	PlatformID string         `json:"platformId"`
	Total      int            `json:"total"`
	ByType     map[string]int `json:"byType"`
	Age        time.Duration  `json:"-"`
	AgeMs      int64          `json:"ageMs"`
	Freshness  Freshness      `json:"freshness"`
}

func buildStats(id string, c EntityTypeCache, now time.Time, maxAge time.Duration) PlatformStats {
	byType := make(map[string]int, len(c.Entities))
	for t, list := range c.Entities {
		byType[t] = len(list)
	}
	age := c.Age(now)
	return PlatformStats{
		PlatformID: id,
		Total:      c.Total(),
		ByType:     byType,
		Age:        age,
		AgeMs:      age.Milliseconds(),
		Freshness:  FreshnessOf(c, true, now, maxAge),
	}
}

func statsFor(m MultiPlatformCache, now time.Time, maxAge time.Duration) []PlatformStats {
	out := make([]PlatformStats, 0, len(m.Platforms))
	for _, id := range m.PlatformIDs() {
		out = append(out, buildStats(id, m.Platforms[id], now, maxAge))
	}
	return out
}

func orphans(stored []string, validIDs []string) []string {
	valid := make(map[string]struct{}, len(validIDs))
	for _, id := range validIDs {
		valid[id] = struct{}{}
	}
	var out []string
	for _, id := range stored {
		if _, ok := valid[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
