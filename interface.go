// Package corekv implements the in-process, size-limited key/value cache
// engine of spec.md: a local cache (package localcache) with pluggable
// eviction, read-through/write-through, indexing, listeners and entry
// processors, optionally fronting a shared back store as a near cache
// (package nearcache) kept coherent across processes over an event bus
// (package eventbus).
//
// This root package is the same kind of thin, URI-configurable facade the
// teacher exposed: New(uri) picks a concrete implementation, and every
// implementation satisfies the same guava-like LoadingCache contract.
package corekv

// Value wraps interface{}, matching the teacher's untyped cache value.
// LocalCache and NearCache are generic over any comparable K and any V;
// this root-level facade fixes K=string and V=Value so it can be selected
// at runtime from a URI the way the teacher's New does.
type Value = interface{}

// Sizer lets a cached value report its own byte size, enabling
// MaxValSize/MaxCacheSize accounting. Values that don't implement it are
// never rejected by MaxValSize and count as one unit toward MaxCacheSize.
type Sizer interface {
	Size() int
}

// LoadingCache is the guava-like cache surface every concrete cache in
// this package implements: Get loads on demand via fn, the rest inspects
// or clears what's cached.
type LoadingCache interface {
	Get(key string, fn func() (Value, error)) (Value, error)
	Peek(key string) (Value, bool)
	Invalidate(fn func(key string) bool)
	Purge()
	Stat() CacheStat
	Close() error
}

// Nop is a do-nothing LoadingCache: every Get simply calls fn, nothing is
// ever retained. Useful as a configuration-driven off switch.
type Nop struct{}

// NewNopCache builds a Nop cache.
func NewNopCache() *Nop { return &Nop{} }

// Get calls fn without any caching.
func (n *Nop) Get(key string, fn func() (Value, error)) (Value, error) { return fn() }

// Peek always reports a miss.
func (n *Nop) Peek(string) (Value, bool) { return nil, false }

// Invalidate does nothing.
func (n *Nop) Invalidate(func(key string) bool) {}

// Purge does nothing.
func (n *Nop) Purge() {}

// Stat always reports zero.
func (n *Nop) Stat() CacheStat { return CacheStat{} }

// Close does nothing.
func (n *Nop) Close() error { return nil }
