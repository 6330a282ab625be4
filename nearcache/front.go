// Package nearcache implements the two-tier near-cache composition from
// spec.md §4.5: a small local "front" cache sitting in front of a shared
// "back" source, kept coherent across processes via an event-bus
// invalidation channel (package eventbus).
package nearcache

import "time"

// Front is the local, in-process side of a near cache. *localcache.LocalCache
// satisfies it directly; RistrettoFront adapts dgraph-io/ristretto to the
// same shape, carrying that dependency forward from the teacher's v1
// ExpirableCache rather than dropping it.
type Front[K comparable, V any] interface {
	Get(key K) (V, bool)
	Insert(key K, val V, ttl time.Duration) bool
	Remove(key K) (V, bool)
	Contains(key K) bool
	Clear()
}
