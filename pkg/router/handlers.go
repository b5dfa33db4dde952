package router

import (
	"context"
	"fmt"

	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/matcher"
	"github.com/sw33tLie/xtmscope/pkg/observables"
	"github.com/sw33tLie/xtmscope/pkg/pagetext"
	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"golang.org/x/sync/errgroup"
)

// pageText returns the text to scan and, for HTML input, the page title.
func pageText(p ScanPayload) (text, title string, err error) {
	if !p.HTML {
		return p.Content, "", nil
	}
	title, text, err = pagetext.Extract(p.Content)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return text, title, nil
}

// index builds a match index over the cached entities of families. A family
// whose cache cannot be read contributes nothing.
func (r *Router) index(ctx context.Context, families ...platforms.Family) *matcher.Index {
	snaps := make([]matcher.FamilySnapshot, 0, len(families))
	for _, f := range families {
		st, err := r.store(f)
		if err != nil {
			continue
		}
		m, err := st.Load(ctx)
		if err != nil {
			r.log.Warnf("Could not load %s cache: %v", f, err)
			continue
		}
		snaps = append(snaps, matcher.FamilySnapshot{Family: f, Cache: m})
	}
	return matcher.BuildIndex(snaps, matcher.IndexOptions{MinKeyLength: r.deps.Settings().MinKeyLength})
}

func (r *Router) fullScan(ctx context.Context, p ScanPayload, families ...platforms.Family) (interface{}, error) {
	start := r.deps.Now()
	text, title, err := pageText(p)
	if err != nil {
		return nil, err
	}
	settings := r.deps.Settings()
	idx := r.index(ctx, families...)

	// observable types may also be listed among the disabled entity types
	disabledObs := append([]string(nil), settings.DisabledObservables...)
	for _, f := range families {
		disabledObs = append(disabledObs, settings.DisabledTypes[f]...)
	}

	res := ScanResult{
		Observables: observables.Detect(text, observables.Options{Disabled: disabledObs}),
		Entities: matcher.Scan(text, idx, matcher.ScanOptions{
			IncludeAttackPatterns: p.IncludeAttackPatterns,
			ExcludedTypes:         settings.DisabledTypes,
		}),
		CVEs:  linkCVEs(observables.DetectCVEs(text), idx),
		URL:   p.URL,
		Title: title,
	}
	res.ScanTime = r.deps.Now().Sub(start).Milliseconds()
	return res, nil
}

// linkCVEs attaches the cached Vulnerability entity named after each CVE.
func linkCVEs(cves []observables.CVE, idx *matcher.Index) []observables.CVE {
	for i := range cves {
		for _, ref := range idx.Lookup(cves[i].ID) {
			if platforms.NormalizeType(ref.Entity.Type) == "Vulnerability" {
				cves[i].EntityID = ref.Entity.ID
				cves[i].PlatformID = ref.Entity.PlatformID
				break
			}
		}
	}
	return cves
}

func (r *Router) scanPage(ctx context.Context, p ScanPayload) (interface{}, error) {
	return r.fullScan(ctx, p, platforms.FamilyOpenCTI)
}

func (r *Router) scanAll(ctx context.Context, p ScanPayload) (interface{}, error) {
	return r.fullScan(ctx, p, platforms.Families...)
}

func (r *Router) scanOtherPlatform(ctx context.Context, p ScanPayload) (interface{}, error) {
	text, _, err := pageText(p)
	if err != nil {
		return nil, err
	}
	idx := r.index(ctx, platforms.FamilyOpenAEV)
	entities := matcher.Scan(text, idx, matcher.ScanOptions{
		IncludeAttackPatterns: p.IncludeAttackPatterns,
		ExcludedTypes:         r.deps.Settings().DisabledTypes,
	})
	return EntitiesResult{Entities: entities}, nil
}

func (r *Router) refreshCache(ctx context.Context) (interface{}, error) {
	var g errgroup.Group
	for _, s := range r.deps.Schedulers {
		g.Go(func() error {
			if !s.Refresh(ctx, true) {
				r.log.Warnf("Forced %s refresh did not fully succeed", s.Family())
			}
			return nil
		})
	}
	_ = g.Wait()
	return r.cacheStats(ctx)
}

func (r *Router) cacheStats(ctx context.Context) (interface{}, error) {
	settings := r.deps.Settings()
	now := r.deps.Now()
	stats := CacheStats{ByPlatform: []PlatformCacheStats{}}
	for _, f := range platforms.Families {
		st, err := r.store(f)
		if err != nil {
			continue
		}
		list, err := st.Stats(ctx, now, settings.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("reading %s cache stats: %w", f, err)
		}
		for _, ps := range list {
			line := PlatformCacheStats{PlatformStats: ps, PlatformType: f}
			if r.deps.Clients != nil {
				if c, ok := r.deps.Clients.Client(ps.PlatformID); ok {
					line.Name = c.Instance().Name
				}
			}
			stats.Total += ps.Total
			if ps.AgeMs > stats.AgeMs {
				stats.AgeMs = ps.AgeMs
			}
			stats.ByPlatform = append(stats.ByPlatform, line)
		}
	}
	for _, s := range r.deps.Schedulers {
		if s.IsRefreshing() {
			stats.IsRefreshing = true
		}
	}
	return stats, nil
}

func (r *Router) clearPlatformCache(ctx context.Context, p ClearPayload) (interface{}, error) {
	f, err := platforms.ParseFamily(p.PlatformType)
	if err != nil {
		return nil, err
	}
	st, err := r.store(f)
	if err != nil {
		return nil, err
	}
	if p.PlatformID == "" {
		if err := st.ClearAll(ctx); err != nil {
			return nil, err
		}
		r.log.Infof("Cleared %s cache", f)
		return "ok", nil
	}
	if err := st.Clear(ctx, p.PlatformID); err != nil {
		return nil, err
	}
	r.log.Infof("Cleared %s cache for %s", f, p.PlatformID)
	return "ok", nil
}

func (r *Router) testConnection(ctx context.Context, p ConnectionPayload) (interface{}, error) {
	if r.deps.Clients == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, p.PlatformID)
	}
	c, ok := r.deps.Clients.Client(p.PlatformID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, p.PlatformID)
	}
	info, err := utils.WithTimeout(ctx, r.deps.Settings().ConnectionTimeout, c.TestConnection)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", c.Instance().DisplayName(), err)
	}
	return info, nil
}

func (r *Router) cachedEntity(ctx context.Context, p EntityPayload) (interface{}, error) {
	f, err := platforms.ParseFamily(p.PlatformType)
	if err != nil {
		return nil, err
	}
	st, err := r.store(f)
	if err != nil {
		return nil, err
	}
	c, found, err := st.Get(ctx, p.PlatformID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, p.PlatformID)
	}
	for _, typ := range c.Types() {
		for _, e := range c.Entities[typ] {
			if e.ID == p.EntityID {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, p.EntityID)
}
