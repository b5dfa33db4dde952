package matcher

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
)

// parentTechnique matches a bare technique id like t1566, ta0001 or ts0002.
var parentTechnique = regexp.MustCompile(`^t[as]?\d{4}$`)

// DetectedEntity is one accepted occurrence of a cached entity in the text.
// Offsets are bytes into the original text and Value is the literal
// substring found there, which may be defanged.
type DetectedEntity struct {
	Type         string           `json:"type"`
	Name         string           `json:"name"`
	Value        string           `json:"value"`
	StartIndex   int              `json:"startIndex"`
	EndIndex     int              `json:"endIndex"`
	EntityID     string           `json:"entityId"`
	PlatformID   string           `json:"platformId"`
	PlatformType platforms.Family `json:"platformType"`
}

type ScanOptions struct {
	// IncludeAttackPatterns keeps attack-pattern entities, which are dropped
	// by default.
	IncludeAttackPatterns bool
	// ExcludedTypes lists disabled entity types per family.
	ExcludedTypes map[platforms.Family][]string
	// NoRefang disables the refanged search pass.
	NoRefang bool
}

type target struct {
	text string
	// toSource maps a match in text to original byte offsets
	toSource func(s, e int) (int, int)
}

// Scan returns every entity of idx found in text. It never fails: a nil or
// empty index yields no matches.
func Scan(text string, idx *Index, opts ScanOptions) []DetectedEntity {
	if idx.Len() == 0 || text == "" {
		return nil
	}

	lower := lowerSameLen(text)
	targets := []target{{text: lower, toSource: func(s, e int) (int, int) { return s, e }}}
	if !opts.NoRefang {
		if rf := Refang(lower); rf.Changed() {
			targets = append(targets, target{text: rf.Text, toSource: rf.Source})
		}
	}

	keys := idx.Keys()
	sort.SliceStable(keys, func(i, j int) bool {
		return utf8.RuneCountInString(keys[i]) > utf8.RuneCountInString(keys[j])
	})

	excluded := excludedSet(opts.ExcludedTypes)
	var (
		claimed RangeSet
		emitted = map[string]struct{}{}
		out     []DetectedEntity
	)

	for _, key := range keys {
		refs := idx.refs[key]
		allowed := make([]Ref, 0, len(refs))
		for _, ref := range refs {
			if isExcluded(ref, opts.IncludeAttackPatterns, excluded) {
				continue
			}
			allowed = append(allowed, ref)
		}
		if len(allowed) == 0 {
			continue
		}
		technique := parentTechnique.MatchString(key)

		for _, t := range targets {
			for pos := 0; pos < len(t.text); {
				i := strings.Index(t.text[pos:], key)
				if i < 0 {
					break
				}
				s := pos + i
				e := s + len(key)
				pos = s + 1

				if !atBoundary(t.text, s, e) {
					continue
				}
				if technique && followedByDot(t.text, e) {
					continue
				}
				from, to := t.toSource(s, e)
				if claimed.Overlaps(from, to) {
					continue
				}
				claimed.Claim(from, to)

				for _, ref := range allowed {
					id := ref.Entity.PlatformID + "\x00" + ref.Entity.ID
					if _, dup := emitted[id]; dup {
						continue
					}
					emitted[id] = struct{}{}
					out = append(out, DetectedEntity{
						Type:         ref.Entity.Type,
						Name:         ref.Entity.Name,
						Value:        text[from:to],
						StartIndex:   from,
						EndIndex:     to,
						EntityID:     ref.Entity.ID,
						PlatformID:   ref.Entity.PlatformID,
						PlatformType: ref.Family,
					})
				}
			}
		}
	}
	return out
}

func excludedSet(in map[platforms.Family][]string) map[platforms.Family]map[string]struct{} {
	out := make(map[platforms.Family]map[string]struct{}, len(in))
	for f, types := range in {
		set := make(map[string]struct{}, len(types))
		for _, t := range types {
			set[platforms.NormalizeType(t)] = struct{}{}
		}
		out[f] = set
	}
	return out
}

func isExcluded(ref Ref, includeAttackPatterns bool, excluded map[platforms.Family]map[string]struct{}) bool {
	if !includeAttackPatterns && platforms.IsAttackPatternType(ref.Entity.Type) {
		return true
	}
	_, ok := excluded[ref.Family][platforms.NormalizeType(ref.Entity.Type)]
	return ok
}

// atBoundary reports whether [s,e) is not part of a longer word in text.
func atBoundary(text string, s, e int) bool {
	if s > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:s])
		if isWordRune(r) {
			return false
		}
	}
	if e < len(text) {
		r, _ := utf8.DecodeRuneInString(text[e:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// followedByDot reports whether text continues at i with a dot, plain or
// defanged, as in "T1566.001" or "T1566[.]001".
func followedByDot(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	if text[i] == '.' {
		return true
	}
	for _, d := range defangs {
		if d.to == "." && hasPrefixFold(text[i:], d.from) {
			return true
		}
	}
	return false
}
