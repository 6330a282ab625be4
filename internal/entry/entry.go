// Package entry defines the unit of storage held by the cache engine and
// the explicit mutation context threaded through internal calls in place of
// a thread-local KeyMask.
package entry

import "time"

// Discarded marks an entry whose units have been backed out of the owning
// cache's running total (about to be dropped).
const Discarded = -1

// Entry is the unit of storage owned exclusively by the LocalCache that
// created it. Keys are immutable and hashable; Value may be nil.
type Entry[K comparable, V any] struct {
	Key K
	Val V

	CreatedAt   time.Time
	LastTouchAt time.Time
	ExpiryAt    time.Time // zero Time means "never expires"
	TouchCount  int64
	Units       int
}

// New creates an entry stamped with the current time.
func New[K comparable, V any](key K, val V, now time.Time) *Entry[K, V] {
	return &Entry[K, V]{
		Key:         key,
		Val:         val,
		CreatedAt:   now,
		LastTouchAt: now,
	}
}

// Expired reports whether the entry has a deadline and it has passed now.
func (e *Entry[K, V]) Expired(now time.Time) bool {
	return !e.ExpiryAt.IsZero() && now.After(e.ExpiryAt)
}

// Touch records an access, bumping the touch count and last-touch time.
func (e *Entry[K, V]) Touch(now time.Time) {
	e.TouchCount++
	e.LastTouchAt = now
}

// DecayTouch shifts the touch count right by four bits (integer division
// by 16), never going below 1.
// Applied to survivors after every prune so long-lived entries stop
// monopolizing the LFU score (spec.md §4.1 "Touch-count decay").
func (e *Entry[K, V]) DecayTouch() {
	e.TouchCount >>= 4
	if e.TouchCount < 1 {
		e.TouchCount = 1
	}
}

// Context is the explicit, non-thread-local replacement for the Coherence
// KeyMask: it marks the current internal operation as synthetic and/or
// expiry-driven and carries the set of keys whose write-through should be
// suppressed (used while loading from a backing store to avoid writeback
// cycles). A zero Context is the ordinary, user-initiated case.
type Context struct {
	Synthetic      bool
	Expired        bool
	SuppressKeys   map[any]struct{}
	SuppressWrites bool // true suppresses write-through for every key of the call, not just SuppressKeys
}

// Suppresses reports whether write-through should be skipped for key.
func (c Context) Suppresses(key any) bool {
	if c.SuppressWrites {
		return true
	}
	if c.SuppressKeys == nil {
		return false
	}
	_, ok := c.SuppressKeys[key]
	return ok
}

// User is the zero-value context for ordinary caller-initiated operations.
var User = Context{}

// Synthetic returns a context marking the operation as engine-generated.
func Synthetic() Context { return Context{Synthetic: true} }

// ExpiryDriven returns a context marking the operation as an expiry eviction.
func ExpiryDriven() Context { return Context{Synthetic: true, Expired: true} }

// Load returns a context for a single-key read-through load: synthetic, and
// suppressing write-through for the loaded key only.
func Load(key any) Context {
	return Context{Synthetic: true, SuppressKeys: map[any]struct{}{key: {}}}
}

// LoadAll returns a context for a bulk read-through load, suppressing
// write-through for every key in keys.
func LoadAll(keys []any) Context {
	set := make(map[any]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return Context{Synthetic: true, SuppressKeys: set}
}
