// Package intervaltree implements a stabbing-query interval index over an
// abstract ordered key, used by cacheddata.Shards to answer "which shards
// cover this hash value" queries.
package intervaltree

import "github.com/clusterlib/clusterlib/hashrange"

// Equal compares two payload values for removal purposes.
type Equal[T any] func(a, b T) bool

type entry[T any] struct {
	lo, hi hashrange.HashRange
	value  T
	seq    int
}

// Tree is an interval tree keyed by hashrange.HashRange bounds. Overlaps
// are permitted; Stab returns every interval covering a point. It is not
// self-balancing — shard counts are small enough in practice that a plain
// slice scan is both simpler and fast enough, matching the scale the
// original clusterlib shard tables operate at.
type Tree[T any] struct {
	entries []entry[T]
	nextSeq int
	equal   Equal[T]
}

// New returns an empty Tree. equal is used by Remove to identify the
// matching entry.
func New[T any](equal Equal[T]) *Tree[T] {
	return &Tree[T]{equal: equal}
}

// Insert adds the closed range [lo,hi] mapped to value.
func (t *Tree[T]) Insert(lo, hi hashrange.HashRange, value T) {
	t.entries = append(t.entries, entry[T]{lo: lo, hi: hi, value: value, seq: t.nextSeq})
	t.nextSeq++
}

// Remove deletes the first entry whose bounds and value match. Reports
// whether an entry was removed.
func (t *Tree[T]) Remove(lo, hi hashrange.HashRange, value T) bool {
	for i, e := range t.entries {
		if e.lo.Compare(lo) == 0 && e.hi.Compare(hi) == 0 && t.equal(e.value, value) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Stabbed is one hit from Stab, carrying the payload plus enough context
// (insertion order) for callers that need stable tie-breaking.
type Stabbed[T any] struct {
	Value T
	Lo    hashrange.HashRange
	Hi    hashrange.HashRange
	Seq   int
}

// Stab returns every interval covering point, in no particular order;
// callers that need a specific order (e.g. priority descending) sort the
// result themselves.
func (t *Tree[T]) Stab(point hashrange.HashRange) []Stabbed[T] {
	var out []Stabbed[T]
	for _, e := range t.entries {
		if e.lo.Compare(point) <= 0 && e.hi.Compare(point) >= 0 {
			out = append(out, Stabbed[T]{Value: e.value, Lo: e.lo, Hi: e.hi, Seq: e.seq})
		}
	}
	return out
}

// Size returns the number of intervals currently stored.
func (t *Tree[T]) Size() int {
	return len(t.entries)
}

// Clear removes every interval.
func (t *Tree[T]) Clear() {
	t.entries = nil
}

// All returns every stored interval, in insertion order.
func (t *Tree[T]) All() []Stabbed[T] {
	out := make([]Stabbed[T], len(t.entries))
	for i, e := range t.entries {
		out[i] = Stabbed[T]{Value: e.value, Lo: e.lo, Hi: e.hi, Seq: e.seq}
	}
	return out
}
