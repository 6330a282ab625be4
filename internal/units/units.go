// Package units implements the pluggable per-entry cost calculators
// (UnitCalculator) and eviction policies (EvictionPolicy) described in
// spec.md §4.1 and §6: Hybrid (the default), LRU, LFU, and an External
// escape hatch for an injected implementation.
//
// The Hybrid scoring formula has no library equivalent in the example
// corpus, so it is hand-rolled here. Plain LRU/LFU selection is also
// hand-rolled: both operate over a caller-supplied snapshot of EntryInfo
// (SelectForEviction is stateless per call, scoring whatever entries the
// cache currently holds) rather than maintaining their own running
// membership the way a resident structure like simplelru does, so there is
// no seam for that dependency to attach to. Selection itself sorts with
// stdlib sort.Slice, the same technique the teacher's own v2 eviction path
// uses.
package units

import (
	"math/bits"
	"sort"
	"time"
)

// Calculator assigns a cost to a key/value pair. Fixed (the default) always
// returns 1; External wraps a caller-supplied function.
type Calculator[K comparable, V any] interface {
	CalculateUnits(key K, val V) int
}

// FixedCalculator charges exactly one unit per entry, the teacher's
// (and spec.md §6's) default.
type FixedCalculator[K comparable, V any] struct{}

// CalculateUnits always returns 1.
func (FixedCalculator[K, V]) CalculateUnits(K, V) int { return 1 }

// ExternalCalculator delegates to an injected function.
type ExternalCalculator[K comparable, V any] struct {
	Fn func(key K, val V) int
}

// CalculateUnits calls the injected function.
func (e ExternalCalculator[K, V]) CalculateUnits(key K, val V) int { return e.Fn(key, val) }

// EntryInfo is the read-only view of an entry a Policy needs to score it.
// It never carries the value itself: eviction scoring only needs identity,
// recency, frequency, and cost.
type EntryInfo[K comparable] struct {
	Key        K
	LastTouch  time.Time
	TouchCount int64
	Units      int
}

// PruneParams carries the ambient numbers a Policy needs to decide how much
// to evict.
type PruneParams struct {
	Now          time.Time
	LastPrune    time.Time
	CurrentUnits int
	LowUnits     int
	AvgTouch     float64
}

// Policy is the sum-type vocabulary for the three built-in eviction
// strategies. External policies (spec.md §4.1 "External policy") do not
// implement this interface: the cache engine type-switches on
// *ExternalPolicy instead, since its control flow is inverted (the policy
// calls back into the cache rather than being asked to select keys).
type Policy[K comparable] interface {
	Name() string
	EntryTouched(key K)
	SelectForEviction(entries []EntryInfo[K], p PruneParams) []K
}

// indexOfMSB returns the position of the highest set bit of n, or -1 if
// n <= 0. Mirrors the "indexOfMSB" primitive spec.md §4.1's Hybrid scoring
// formula is built from.
func indexOfMSB(n int64) int {
	if n <= 0 {
		return -1
	}
	return bits.Len64(uint64(n)) - 1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Hybrid is the default eviction policy from spec.md §4.1: a blend of LRU
// recency and LFU frequency scored into a 0..10 priority, with the highest
// priority (least recently and least frequently used) evicted first.
type Hybrid[K comparable] struct {
	touched func(K)
}

// NewHybrid builds a Hybrid policy. onTouch, if non-nil, is invoked on
// every EntryTouched call (hook for tests/observability).
func NewHybrid[K comparable](onTouch func(K)) *Hybrid[K] {
	return &Hybrid[K]{touched: onTouch}
}

// Name identifies the policy for logging/config round-tripping.
func (*Hybrid[K]) Name() string { return "hybrid" }

// EntryTouched notifies the policy of an access; Hybrid itself is stateless
// per call and only uses the forwarded hook, since its scoring recomputes
// from EntryInfo at prune time rather than maintaining running state.
func (h *Hybrid[K]) EntryTouched(key K) {
	if h.touched != nil {
		h.touched(key)
	}
}

func (h *Hybrid[K]) lruScore(e EntryInfo[K], p PruneParams) int {
	if e.LastTouch.Before(p.LastPrune) {
		return 0
	}
	dormant := p.Now.Sub(e.LastTouch).Seconds()
	window := p.Now.Sub(p.LastPrune).Seconds()
	if window < 0 {
		window = 0
	}
	pct := (window - dormant) / (1 + window)
	if pct < 0 {
		pct = 0
	}
	bucket := int64(pct * pct * 64)
	return 1 + indexOfMSB(bucket)
}

func (h *Hybrid[K]) lfuScore(e EntryInfo[K], p PruneParams) int {
	if e.TouchCount == 0 {
		return 0
	}
	score := 1
	if float64(e.TouchCount) > p.AvgTouch {
		score++
	}
	adj := 2*float64(e.TouchCount) - p.AvgTouch
	if adj > 0 {
		bucket := int64((adj * 8) / (1 + p.AvgTouch))
		score += 1 + minInt(4, maxInt(0, indexOfMSB(bucket)))
	}
	return score
}

func (h *Hybrid[K]) priority(e EntryInfo[K], p PruneParams) int {
	pr := 10 - h.lruScore(e, p) - h.lfuScore(e, p)
	return maxInt(0, pr)
}

// SelectForEviction buckets entries by priority (0..10), sums their units
// from priority 10 downward until the running total would exceed the
// amount that needs freeing, then evicts everything strictly above that
// cutoff priority plus entries at the cutoff itself (in enumeration order)
// until the low mark is satisfied.
func (h *Hybrid[K]) SelectForEviction(entries []EntryInfo[K], p PruneParams) []K {
	toFree := p.CurrentUnits - p.LowUnits
	if toFree <= 0 {
		return nil
	}

	const buckets = 11 // priorities 0..10
	byPriority := make([][]EntryInfo[K], buckets)
	unitsAt := make([]int, buckets)
	for _, e := range entries {
		pr := h.priority(e, p)
		byPriority[pr] = append(byPriority[pr], e)
		unitsAt[pr] += e.Units
	}

	cumulative := 0
	cutoff := 0
	for pr := buckets - 1; pr >= 0; pr-- {
		cumulative += unitsAt[pr]
		if cumulative > toFree {
			cutoff = pr
			break
		}
		cutoff = pr
	}

	var evicted []K
	freed := 0
	for pr := buckets - 1; pr > cutoff; pr-- {
		for _, e := range byPriority[pr] {
			evicted = append(evicted, e.Key)
			freed += e.Units
		}
	}
	for _, e := range byPriority[cutoff] {
		if freed >= toFree {
			break
		}
		evicted = append(evicted, e.Key)
		freed += e.Units
	}
	return evicted
}

// LRU evicts strictly by last-touch ascending until the low mark is
// satisfied; all entries tied on the boundary timestamp are dropped
// together, per spec.md §4.1.
type LRU[K comparable] struct{ touched func(K) }

// NewLRU builds an LRU policy.
func NewLRU[K comparable](onTouch func(K)) *LRU[K] { return &LRU[K]{touched: onTouch} }

// Name identifies the policy.
func (*LRU[K]) Name() string { return "lru" }

// EntryTouched forwards to the optional hook.
func (l *LRU[K]) EntryTouched(key K) {
	if l.touched != nil {
		l.touched(key)
	}
}

// SelectForEviction returns entries ordered oldest-first, stopping once
// cumulative freed units satisfy the low mark, then including any further
// entries tied with the last one's timestamp.
func (l *LRU[K]) SelectForEviction(entries []EntryInfo[K], p PruneParams) []K {
	return selectByKey(entries, p, func(e EntryInfo[K]) int64 { return e.LastTouch.UnixNano() })
}

// LFU evicts strictly by touch-count ascending, same tie-handling as LRU.
type LFU[K comparable] struct{ touched func(K) }

// NewLFU builds an LFU policy.
func NewLFU[K comparable](onTouch func(K)) *LFU[K] { return &LFU[K]{touched: onTouch} }

// Name identifies the policy.
func (*LFU[K]) Name() string { return "lfu" }

// EntryTouched forwards to the optional hook.
func (l *LFU[K]) EntryTouched(key K) {
	if l.touched != nil {
		l.touched(key)
	}
}

// SelectForEviction returns entries ordered least-used-first.
func (l *LFU[K]) SelectForEviction(entries []EntryInfo[K], p PruneParams) []K {
	return selectByKey(entries, p, func(e EntryInfo[K]) int64 { return e.TouchCount })
}

func selectByKey[K comparable](entries []EntryInfo[K], p PruneParams, rank func(EntryInfo[K]) int64) []K {
	toFree := p.CurrentUnits - p.LowUnits
	if toFree <= 0 {
		return nil
	}
	sorted := make([]EntryInfo[K], len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return rank(sorted[i]) < rank(sorted[j]) })

	var evicted []K
	freed := 0
	for i := 0; i < len(sorted); i++ {
		if freed >= toFree {
			// include ties with the previous (just-included) rank
			if i > 0 && rank(sorted[i]) == rank(sorted[i-1]) {
				evicted = append(evicted, sorted[i].Key)
				freed += sorted[i].Units
				continue
			}
			break
		}
		evicted = append(evicted, sorted[i].Key)
		freed += sorted[i].Units
	}
	return evicted
}

// ExternalPolicy wraps an injected, push-model eviction policy: instead of
// being asked to select keys, it is handed the target maximum units and an
// Evict callback it calls on its own schedule (spec.md §4.1 "External
// policy"). EntryTouchedFn mirrors the EvictionPolicy.entryTouched contract
// from spec.md §6.
type ExternalPolicy[K comparable] struct {
	RequestEvictionFn func(maximumUnits int, evict func(keys ...K))
	EntryTouchedFn    func(key K)
}

// Name identifies the policy for logging.
func (*ExternalPolicy[K]) Name() string { return "external" }

// EntryTouched forwards every access/mutation to the injected callback.
func (e *ExternalPolicy[K]) EntryTouched(key K) {
	if e.EntryTouchedFn != nil {
		e.EntryTouchedFn(key)
	}
}

// RequestEviction invokes the injected callback with the target maximum
// units and an evict closure bound to the cache's own removal path.
func (e *ExternalPolicy[K]) RequestEviction(maximumUnits int, evict func(keys ...K)) {
	if e.RequestEvictionFn != nil {
		e.RequestEvictionFn(maximumUnits, evict)
	}
}
