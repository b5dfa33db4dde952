package refresh

import (
	"context"
	"strings"
	"time"

	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// PlatformResult holds the outcome of refreshing a single platform.
type PlatformResult struct {
	PlatformID string        `json:"platformId"`
	Attempted  int           `json:"attempted"`
	Failed     int           `json:"failed"`
	Total      int           `json:"total"`
	Succeeded  bool          `json:"succeeded"`
	Duration   time.Duration `json:"-"`
	Errors     []error       `json:"-"`
}

// PlatformConfig holds everything RefreshPlatform needs for a single platform.
type PlatformConfig struct {
	Client       platforms.Client
	Store        storage.Store
	FetchTimeout time.Duration
	Now          func() time.Time // optional; defaults to time.Now
	Log          Logger           // optional; nil = no logging

	// Active reports whether the platform is still configured. A platform
	// removed while its fetches were running is not written back.
	Active func() bool
}

// RefreshPlatform fetches every entity type of the platform's family
// concurrently and commits the merged result once all fetches settled.
// A failed type keeps its previously cached entities. The refresh succeeds
// when something was fetched and not every type failed.
func RefreshPlatform(ctx context.Context, cfg PlatformConfig) PlatformResult {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	start := time.Now()
	inst := cfg.Client.Instance()
	types := platforms.EntityTypes(inst.Type)
	result := PlatformResult{PlatformID: inst.ID, Attempted: len(types)}

	prev, found, err := cfg.Store.Get(ctx, inst.ID)
	if err != nil {
		log.Warnf("Could not read cache for %s: %v", inst.DisplayName(), err)
		found = false
	}

	fetched := make([][]storage.CachedEntity, len(types))
	errs := make([]error, len(types))
	var g errgroup.Group
	for i, typ := range types {
		g.Go(func() error {
			raw, err := utils.WithTimeout(ctx, cfg.FetchTimeout, func(ctx context.Context) ([]platforms.Entity, error) {
				return cfg.Client.FetchEntitiesOfType(ctx, typ)
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			fetched[i] = Convert(raw, typ, inst.ID)
			return nil
		})
	}
	_ = g.Wait()

	ts := now().UnixMilli()
	next := storage.EntityTypeCache{
		Entities:       make(map[string][]storage.CachedEntity, len(types)),
		TypeTimestamps: make(map[string]int64, len(types)),
	}
	for i, typ := range types {
		if errs[i] != nil {
			result.Failed++
			result.Errors = append(result.Errors, errs[i])
			log.Warnf("Failed to fetch %s from %s: %v", typ, inst.DisplayName(), errs[i])
			if found {
				if old, ok := prev.Entities[typ]; ok {
					next.Entities[typ] = old
				}
				if t, ok := prev.TypeTimestamps[typ]; ok {
					next.TypeTimestamps[typ] = t
				}
			}
			continue
		}
		next.Entities[typ] = fetched[i]
		next.TypeTimestamps[typ] = ts
		result.Total += len(fetched[i])
	}

	result.Succeeded = result.Total > 0 && result.Failed < result.Attempted
	result.Duration = time.Since(start)

	if result.Attempted > 0 && result.Failed == result.Attempted {
		log.Warnf("Every entity type failed for %s, keeping previous cache", inst.DisplayName())
		return result
	}

	next.Timestamp = ts
	if found && result.Failed > 0 {
		next.Timestamp = prev.Timestamp
	}
	if !cfg.active() {
		log.Infof("%s was removed during its refresh, discarding %d entities", inst.DisplayName(), result.Total)
		return result
	}
	if err := cfg.Store.Set(ctx, inst.ID, next); err != nil {
		log.Errorf("Could not write cache for %s: %v", inst.DisplayName(), err)
		result.Errors = append(result.Errors, err)
		result.Succeeded = false
		return result
	}
	// removal may have raced the write
	if !cfg.active() {
		if err := cfg.Store.Clear(ctx, inst.ID); err != nil {
			log.Warnf("Could not drop cache of removed platform %s: %v", inst.DisplayName(), err)
		}
		return result
	}

	log.Infof("Refreshed %s: %d entities, %d/%d types failed (%s)", inst.DisplayName(), result.Total, result.Failed, result.Attempted, result.Duration.Round(time.Millisecond))
	return result
}

func (cfg PlatformConfig) active() bool {
	return cfg.Active == nil || cfg.Active()
}

// Convert projects raw platform entities into cache entries. Records without
// an id or a name are dropped, ids are unique, and the external id (such as
// a MITRE technique id) becomes an alias so it can be matched in text.
func Convert(raw []platforms.Entity, entityType, platformID string) []storage.CachedEntity {
	out := make([]storage.CachedEntity, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, e := range raw {
		name := strings.TrimSpace(e.Name)
		if e.ID == "" || name == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}

		aliases := e.Aliases
		if e.ExternalID != "" {
			aliases = append(append([]string(nil), aliases...), e.ExternalID)
		}
		var kept []string
		for _, a := range utils.UniqueStrings(aliases) {
			if !strings.EqualFold(a, name) {
				kept = append(kept, a)
			}
		}

		out = append(out, storage.CachedEntity{
			ID:         e.ID,
			Name:       name,
			Aliases:    kept,
			ExternalID: e.ExternalID,
			Type:       entityType,
			PlatformID: platformID,
		})
	}
	return out
}
