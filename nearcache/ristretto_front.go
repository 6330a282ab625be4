package nearcache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoFront adapts a dgraph-io/ristretto cache to the Front interface,
// grounded on the teacher's v1 ExpirableCache (expirable_cache.go), which
// used the same library for its TTL-aware backend before the v2 rewrite
// dropped it. It is offered as an alternate, higher-throughput front for
// near caches that do not need LocalCache's indexing/listener machinery.
type RistrettoFront[K comparable, V any] struct {
	backend *ristretto.Cache
}

// NewRistrettoFront builds a RistrettoFront sized for maxKeys entries.
func NewRistrettoFront[K comparable, V any](maxKeys int64) (*RistrettoFront[K, V], error) {
	backend, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxKeys * 10,
		MaxCost:     maxKeys,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoFront[K, V]{backend: backend}, nil
}

// Get returns the cached value for key, if present.
func (f *RistrettoFront[K, V]) Get(key K) (V, bool) {
	v, ok := f.backend.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Insert stores val under key with ttl (0 means no expiry).
func (f *RistrettoFront[K, V]) Insert(key K, val V, ttl time.Duration) bool {
	if ttl > 0 {
		return f.backend.SetWithTTL(key, val, 1, ttl)
	}
	return f.backend.Set(key, val, 1)
}

// Remove deletes key. Ristretto's Del does not report whether the key was
// present, so Remove returns what a Get found just before the Del (false
// when the entry was not cached locally, which callers treat as "nothing
// to return" rather than an error).
func (f *RistrettoFront[K, V]) Remove(key K) (V, bool) {
	v, ok := f.Get(key)
	f.backend.Del(key)
	return v, ok
}

// Contains reports whether key is present without affecting recency.
func (f *RistrettoFront[K, V]) Contains(key K) bool {
	_, ok := f.backend.Get(key)
	return ok
}

// Clear purges every entry.
func (f *RistrettoFront[K, V]) Clear() { f.backend.Clear() }

// Close releases the backend's background goroutines.
func (f *RistrettoFront[K, V]) Close() { f.backend.Close() }
