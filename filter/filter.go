// Package filter implements the Filter contract from spec.md §6, including
// the index-aware variant that narrows a candidate key set via
// SimpleCacheIndex's inverted map instead of forcing a full scan.
package filter

import (
	"github.com/kvengine/corekv/internal/idx"
)

// Filter evaluates a predicate over a cached value. getKeys/getValues/
// getEntries/invokeAll use it to select entries (spec.md §4.1 "Queries").
type Filter[K comparable, V any] interface {
	Matches(val V) bool
}

// Func adapts a plain predicate function to a Filter.
type Func[K comparable, V any] func(val V) bool

// Matches calls f.
func (f Func[K, V]) Matches(val V) bool { return f(val) }

// IndexSet is the map of attribute-name to index a cache exposes to
// index-aware filters.
type IndexSet[K comparable, V any] map[string]*idx.Index[K, V]

// IndexAware is spec.md §6's index-aware filter variant: ApplyIndex
// narrows candidateKeys via indexes, returning (filtered, true) when it
// could use an index, or (nil, false) when it could not be optimized and
// the caller must fall back to a full scan plus Matches.
type IndexAware[K comparable, V any] interface {
	Filter[K, V]
	ApplyIndex(indexes IndexSet[K, V], candidateKeys []K) ([]K, bool)
}

// Always matches every value; ApplyIndex returns the candidate set
// unchanged (already optimal).
type Always[K comparable, V any] struct{}

// Matches always returns true.
func (Always[K, V]) Matches(V) bool { return true }

// ApplyIndex returns candidateKeys unchanged.
func (Always[K, V]) ApplyIndex(_ IndexSet[K, V], candidateKeys []K) ([]K, bool) {
	return candidateKeys, true
}

// Equal matches values whose IndexName attribute equals Value, using the
// named index's inverted map when available.
type Equal[K comparable, V any] struct {
	IndexName string
	Extract   func(V) (any, bool)
	Value     any
}

// Matches falls back to direct extraction when no index is consulted.
func (e Equal[K, V]) Matches(val V) bool {
	if e.Extract == nil {
		return false
	}
	attr, ok := e.Extract(val)
	return ok && attr == e.Value
}

// ApplyIndex narrows candidateKeys to exactly the inverted bucket for
// e.Value, intersected with candidateKeys, when the named index exists.
func (e Equal[K, V]) ApplyIndex(indexes IndexSet[K, V], candidateKeys []K) ([]K, bool) {
	ix, ok := indexes[e.IndexName]
	if !ok {
		return nil, false
	}
	bucket := ix.Keys(e.Value)
	return intersect(bucket, candidateKeys), true
}

// Contains matches collection-valued attributes containing Value, using
// the same named index as Equal (collection indexes are split per-element
// by SimpleCacheIndex, so the inverted bucket for Value already lists
// exactly the right keys).
type Contains[K comparable, V any] struct {
	IndexName string
	Extract   func(V) (any, bool)
	Value     any
}

// Matches checks direct containment without an index.
func (c Contains[K, V]) Matches(val V) bool {
	if c.Extract == nil {
		return false
	}
	attr, ok := c.Extract(val)
	if !ok {
		return false
	}
	if s, isSlice := attr.([]any); isSlice {
		for _, e := range s {
			if e == c.Value {
				return true
			}
		}
		return false
	}
	return attr == c.Value
}

// ApplyIndex narrows via the named index's inverted bucket for Value.
func (c Contains[K, V]) ApplyIndex(indexes IndexSet[K, V], candidateKeys []K) ([]K, bool) {
	ix, ok := indexes[c.IndexName]
	if !ok {
		return nil, false
	}
	bucket := ix.Keys(c.Value)
	return intersect(bucket, candidateKeys), true
}

// And matches when every sub-filter matches; ApplyIndex intersects every
// sub-filter that can be optimized and falls back to the full candidate
// set for the rest.
type And[K comparable, V any] []Filter[K, V]

// Matches requires every sub-filter to match.
func (a And[K, V]) Matches(val V) bool {
	for _, f := range a {
		if !f.Matches(val) {
			return false
		}
	}
	return true
}

// ApplyIndex intersects the results of every index-aware sub-filter.
func (a And[K, V]) ApplyIndex(indexes IndexSet[K, V], candidateKeys []K) ([]K, bool) {
	result := candidateKeys
	optimized := false
	for _, f := range a {
		ia, ok := f.(IndexAware[K, V])
		if !ok {
			continue
		}
		filtered, ok := ia.ApplyIndex(indexes, result)
		if !ok {
			continue
		}
		result = filtered
		optimized = true
	}
	return result, optimized
}

// Or matches when any sub-filter matches. It is never index-aware: unioning
// partial index results correctly still requires re-validating every
// candidate with Matches, so Or has no ApplyIndex and queries over it take
// the full-scan path.
type Or[K comparable, V any] []Filter[K, V]

// Matches requires at least one sub-filter to match.
func (o Or[K, V]) Matches(val V) bool {
	for _, f := range o {
		if f.Matches(val) {
			return true
		}
	}
	return false
}

func intersect[K comparable](a, b []K) []K {
	set := make(map[K]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]K, 0, minLen(len(a), len(b)))
	for _, k := range a {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}
