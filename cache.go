package corekv

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/kvengine/corekv/internal/units"
	"github.com/kvengine/corekv/localcache"
)

// sizerCalculator charges a Sizer-reporting value its declared byte size,
// and everything else 1 unit, letting a single LocalCache budget (HighUnits)
// serve as either a key-count or byte-size cap depending on which of
// MaxKeys/MaxCacheSize the caller set.
type sizerCalculator[K comparable] struct{}

func (sizerCalculator[K]) CalculateUnits(_ K, val Value) int {
	if s, ok := val.(Sizer); ok {
		return s.Size()
	}
	return 1
}

// Cache is the local, single-process LoadingCache built on top of
// localcache.LocalCache[string, Value], replacing the teacher's
// hashicorp/golang-lru-backed Cache/LruCache pair with the module's own
// generic engine (units/eviction policy, read-through hooks and all).
type Cache struct {
	engine  *localcache.LocalCache[string, Value]
	cfg     config
	errCnt  int64
}

// NewCache builds a Cache, 1000 max keys by default (MaxKeys(0) or
// MaxCacheSize disables the key-count cap in favor of a byte-size cap).
func NewCache(opts ...Option) (*Cache, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to set cache option")
	}

	localOpts := []localcache.Option[string, Value]{
		localcache.EvictionPolicy[string, Value](units.NewLRU[string](nil)),
	}
	if cfg.maxCacheSize > 0 {
		localOpts = append(localOpts,
			localcache.UnitCalculator[string, Value](sizerCalculator[string]{}),
			localcache.HighUnits[string, Value](int(cfg.maxCacheSize)),
		)
	} else if cfg.maxKeys > 0 {
		localOpts = append(localOpts, localcache.HighUnits[string, Value](cfg.maxKeys))
	}
	if cfg.ttl > 0 {
		localOpts = append(localOpts, localcache.ExpiryDelay[string, Value](cfg.ttl))
	}

	return &Cache{engine: localcache.New[string, Value]("cache", localOpts...), cfg: cfg}, nil
}

// Get gets value by key or loads it with fn if not found in cache.
func (c *Cache) Get(key string, fn func() (Value, error)) (Value, error) {
	if v, ok := c.engine.Get(key); ok {
		return v, nil
	}
	data, err := fn()
	if err != nil {
		atomic.AddInt64(&c.errCnt, 1)
		return data, err
	}
	if c.allowed(key, data) {
		c.engine.Insert(key, data, localcache.TTLDefault)
	}
	return data, nil
}

// Peek returns key's value without affecting recency or triggering expiry
// eviction/read-through.
func (c *Cache) Peek(key string) (Value, bool) { return c.engine.Peek(key) }

// Purge clears the cache completely.
func (c *Cache) Purge() { c.engine.Clear() }

// Invalidate removes every key for which fn returns true.
func (c *Cache) Invalidate(fn func(key string) bool) {
	for _, k := range c.engine.Keys() {
		if fn(k) {
			c.engine.Remove(k)
		}
	}
}

// Stat returns cache statistics in the teacher's CacheStat shape.
func (c *Cache) Stat() CacheStat {
	return c.engine.Stats().CacheStat(c.engine.Size(), int64(c.engine.Units()), atomic.LoadInt64(&c.errCnt))
}

// Close shuts down the engine's listener dispatch pool.
func (c *Cache) Close() error {
	c.engine.Close()
	return nil
}

func (c *Cache) allowed(key string, data Value) bool {
	if c.cfg.maxKeySize > 0 && len(key) > c.cfg.maxKeySize {
		return false
	}
	if s, ok := data.(Sizer); ok {
		if c.cfg.maxValueSize > 0 && s.Size() >= c.cfg.maxValueSize {
			return false
		}
	}
	return true
}
