// Package matcher finds cached platform entities inside free text.
package matcher

import (
	"strings"
	"unicode/utf8"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/storage"
)

// DefaultMinKeyLength drops short, noisy keys such as "AD" or "Bot".
const DefaultMinKeyLength = 4

// Ref is one cached entity reachable through an index key.
type Ref struct {
	Entity storage.CachedEntity
	Family platforms.Family
}

// FamilySnapshot is the cache content of one family at build time.
type FamilySnapshot struct {
	Family platforms.Family
	Cache  storage.MultiPlatformCache
}

type IndexOptions struct {
	// MinKeyLength is counted in runes. Zero means DefaultMinKeyLength.
	MinKeyLength int
}

// Index maps lower-cased names and aliases to the entities carrying them.
type Index struct {
	keys []string // insertion order
	refs map[string][]Ref
}

// BuildIndex builds a match index from the given snapshots. Families are
// walked in the given order, then platform ids, types, and entities in a
// deterministic order, so two builds from the same input are identical.
func BuildIndex(snapshots []FamilySnapshot, opts IndexOptions) *Index {
	minLen := opts.MinKeyLength
	if minLen <= 0 {
		minLen = DefaultMinKeyLength
	}
	idx := &Index{refs: map[string][]Ref{}}
	// entity identity per key, to never list the same entity twice
	seen := map[string]map[string]struct{}{}

	for _, snap := range snapshots {
		for _, pid := range snap.Cache.PlatformIDs() {
			pc := snap.Cache.Platforms[pid]
			for _, typ := range pc.Types() {
				for _, e := range pc.Entities[typ] {
					if e.PlatformID == "" {
						e.PlatformID = pid
					}
					ref := Ref{Entity: e, Family: snap.Family}
					id := string(snap.Family) + "\x00" + e.PlatformID + "\x00" + e.Type + "\x00" + e.ID
					idx.add(e.Name, ref, id, minLen, seen)
					for _, alias := range e.Aliases {
						idx.add(alias, ref, id, minLen, seen)
					}
				}
			}
		}
	}
	return idx
}

func (idx *Index) add(raw string, ref Ref, id string, minLen int, seen map[string]map[string]struct{}) {
	key := lowerSameLen(strings.TrimSpace(raw))
	if utf8.RuneCountInString(key) < minLen {
		return
	}
	ids, ok := seen[key]
	if !ok {
		ids = map[string]struct{}{}
		seen[key] = ids
		idx.keys = append(idx.keys, key)
	}
	if _, dup := ids[id]; dup {
		return
	}
	ids[id] = struct{}{}
	idx.refs[key] = append(idx.refs[key], ref)
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.keys)
}

// Keys returns the keys in insertion order.
func (idx *Index) Keys() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.keys...)
}

// Lookup returns the entities stored under key, matched case-insensitively.
func (idx *Index) Lookup(key string) []Ref {
	if idx == nil {
		return nil
	}
	return idx.refs[lowerSameLen(strings.TrimSpace(key))]
}
