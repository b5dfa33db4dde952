package matcher

import "sort"

type span struct{ start, end int }

// RangeSet is a sorted set of disjoint half-open byte ranges.
type RangeSet struct {
	spans []span
}

// Overlaps reports whether [s,e) intersects a claimed range.
func (r *RangeSet) Overlaps(s, e int) bool {
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].start >= e })
	return i > 0 && r.spans[i-1].end > s
}

// Claim inserts [s,e). The caller has checked it does not overlap.
func (r *RangeSet) Claim(s, e int) {
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].start >= s })
	r.spans = append(r.spans, span{})
	copy(r.spans[i+1:], r.spans[i:])
	r.spans[i] = span{s, e}
}
