// Package localcache implements LocalCache (spec.md §4.1, C7): the
// size-bounded, optionally-expiring engine at the center of the module —
// storage, expiry, pruning, read-through/write-through, event emission,
// invocations and queries.
//
// Grounded on the teacher's internal/cache.LoadingCache generics-era engine
// (map + mutex + lazy purge-on-access) generalized with the five
// cooperating subsystems spec.md §4 describes: units/eviction (internal
// package units), indexing (internal package idx), key locking (internal
// package keylock), listeners (internal package listener) and bundling
// (package bundler, used by NearCache rather than here).
package localcache

import (
	"log"
	"sync"
	"time"

	"github.com/kvengine/corekv/internal/entry"
	"github.com/kvengine/corekv/internal/idx"
	"github.com/kvengine/corekv/internal/keylock"
	"github.com/kvengine/corekv/internal/listener"
	"github.com/kvengine/corekv/internal/units"
	"github.com/kvengine/corekv/stats"
	"github.com/kvengine/corekv/store"
)

// TTL sentinels, per spec.md §3/§6.
const (
	// TTLDefault uses the cache's configured default expiry delay (0 means
	// never expires).
	TTLDefault time.Duration = -1
	// TTLNever disables expiry for this entry regardless of the default.
	TTLNever time.Duration = -2
)

// Entry is an immutable snapshot returned by queries (getKeys/getValues/
// getEntries); unlike the internal entry.Entry it owns, it never lets a
// caller reach back into cache-mutable state (spec.md §9 design note on
// avoiding shared ownership).
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// LocalCache is spec.md §4.1's engine. One reader-writer guard protects it;
// a separate KeyLockManager (internal/keylock) handles user-level
// single-key locking (spec.md §4.1 "Concurrency guard").
type LocalCache[K comparable, V any] struct {
	name string

	mu   sync.RWMutex
	data map[K]*entry.Entry[K, V]

	currentUnits int
	highUnits    int
	lowUnits     int

	expiryDelay time.Duration
	flushDelay  time.Duration
	nextFlushAt time.Time

	calculator units.Calculator[K, V]
	policy     units.Policy[K]
	external   *units.ExternalPolicy[K]

	lastPrune   time.Time
	prunesCount int64
	totalGets   int64
	totalPuts   int64
	avgTouch    float64

	listeners *listener.Registry[K, V]
	indexes   map[string]*idx.Index[K, V]

	locks *keylock.Manager[K]

	loader store.Loader[K, V]
	cstore store.Store[K, V]

	stats       stats.Stats
	errorsCount int64

	prometheus *stats.PrometheusExporter
}

// Option configures a LocalCache at construction, mirroring the teacher's
// functional-option pattern (options.go).
type Option[K comparable, V any] func(*LocalCache[K, V])

// HighUnits sets the high-water mark that triggers pruning (spec.md §6,
// default unbounded).
func HighUnits[K comparable, V any](n int) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.highUnits = n }
}

// LowUnits sets the target after pruning (spec.md §6, default 0.75*high).
func LowUnits[K comparable, V any](n int) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.lowUnits = n }
}

// ExpiryDelay sets the default per-entry TTL used when insert is called
// with TTLDefault (0 means entries never expire by default).
func ExpiryDelay[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.expiryDelay = d }
}

// FlushDelay sets the lazy-flush interval (spec.md §4.1 "Expiry"); 0 means
// flush is only ever triggered implicitly by high/low unit pruning.
func FlushDelay[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.flushDelay = d }
}

// UnitCalculator overrides the default FixedCalculator (1 unit/entry).
func UnitCalculator[K comparable, V any](calc units.Calculator[K, V]) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.calculator = calc }
}

// EvictionPolicy installs one of the built-in policies (Hybrid/LRU/LFU).
func EvictionPolicy[K comparable, V any](p units.Policy[K]) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.policy = p }
}

// ExternalEvictionPolicy installs an injected, push-model eviction policy
// (spec.md §4.1 "External policy").
func ExternalEvictionPolicy[K comparable, V any](p *units.ExternalPolicy[K]) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.external = p }
}

// Loader attaches a read-through CacheLoader (spec.md §4.1 "Read-through").
func Loader[K comparable, V any](l store.Loader[K, V]) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.loader = l }
}

// CacheStore attaches a write-through CacheStore (spec.md §4.1
// "Write-through"); it also satisfies Loader, so setting CacheStore alone
// is enough to enable read-through.
func CacheStore[K comparable, V any](s store.Store[K, V]) Option[K, V] {
	return func(c *LocalCache[K, V]) {
		c.cstore = s
		c.loader = s
	}
}

// WithPrometheus attaches an exporter that prune() refreshes with each
// cycle's cumulative stats snapshot and the current key/unit counts
// (spec.md §4.6's optional Prometheus export).
func WithPrometheus[K comparable, V any](e *stats.PrometheusExporter) Option[K, V] {
	return func(c *LocalCache[K, V]) { c.prometheus = e }
}

// New builds a LocalCache named name. Defaults: unbounded high/low units,
// no expiry, Hybrid eviction, Fixed unit calculator, no loader/store.
func New[K comparable, V any](name string, opts ...Option[K, V]) *LocalCache[K, V] {
	c := &LocalCache[K, V]{
		name:      name,
		data:      map[K]*entry.Entry[K, V]{},
		highUnits: -1, // unbounded sentinel, resolved below
		lastPrune: time.Now(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.highUnits < 0 {
		c.highUnits = int(^uint(0) >> 1) // spec.md §6 default: MAX
	}
	if c.lowUnits <= 0 {
		c.lowUnits = int(float64(c.highUnits) * 0.75)
	}
	if c.calculator == nil {
		c.calculator = units.FixedCalculator[K, V]{}
	}
	if c.policy == nil && c.external == nil {
		c.policy = units.NewHybrid[K](nil)
	}
	c.listeners = listener.New[K, V](name)
	c.indexes = map[string]*idx.Index[K, V]{}
	c.locks = keylock.NewManager[K]()

	if c.cstore != nil {
		c.installWriteThrough()
	}
	if c.flushDelay > 0 {
		c.nextFlushAt = time.Now().Add(c.flushDelay)
	}
	return c
}

// Name returns the cache's diagnostic name.
func (c *LocalCache[K, V]) Name() string { return c.name }

// Get returns the value for key, read-through loading it if a loader is
// attached and the key is absent, per spec.md §4.1.
func (c *LocalCache[K, V]) Get(key K) (V, bool) {
	start := time.Now()
	v, ok := c.getFastPath(key)
	if ok {
		c.stats.RecordGet(true, time.Since(start))
		return v, true
	}
	if c.loader == nil {
		c.stats.RecordGet(false, time.Since(start))
		var zero V
		return zero, false
	}
	v, ok = c.loadThrough(key)
	c.stats.RecordGet(ok, time.Since(start))
	return v, ok
}

// getFastPath performs a read under the shared lock, escalating to
// exclusive only when the result requires a mutation (expiry eviction),
// per spec.md §4.1's "Concurrency guard" fast path.
func (c *LocalCache[K, V]) getFastPath(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	if !ok {
		c.mu.RUnlock()
		var zero V
		return zero, false
	}
	now := time.Now()
	if !e.Expired(now) {
		e.Touch(now)
		if c.policy != nil {
			c.policy.EntryTouched(key)
		}
		if c.external != nil {
			c.external.EntryTouched(key)
		}
		v := e.Val
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.data[key]
	if !ok || !e.Expired(time.Now()) {
		if ok {
			v := e.Val
			return v, true
		}
		var zero V
		return zero, false
	}
	c.removeLocked(key, entry.ExpiryDriven())
	var zero V
	return zero, false
}

// Peek returns the value for key without triggering expiry eviction,
// loader invocation, or touch-count/LRU updates.
func (c *LocalCache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok || e.Expired(time.Now()) {
		var zero V
		return zero, false
	}
	return e.Val, true
}

// Contains reports whether key is present and unexpired.
func (c *LocalCache[K, V]) Contains(key K) bool {
	_, ok := c.Peek(key)
	return ok
}

// Insert stores key/val with ttl (TTLDefault or TTLNever are accepted, as
// is any positive duration). Returns true if an existing entry was
// overwritten (Updated) rather than created (Inserted).
func (c *LocalCache[K, V]) Insert(key K, val V, ttl time.Duration) bool {
	c.mu.Lock()
	updated := c.insertLocked(key, val, ttl, entry.User)
	c.maybeLazyFlush(true)
	c.mu.Unlock()
	return updated
}

// InsertAll stores every key/value pair in items, each with TTLDefault.
func (c *LocalCache[K, V]) InsertAll(items map[K]V) {
	c.mu.Lock()
	for k, v := range items {
		c.insertLocked(k, v, TTLDefault, entry.User)
	}
	c.maybeLazyFlush(true)
	c.mu.Unlock()
}

// insertLocked performs the actual insert/update under the exclusive lock,
// emitting exactly one event and updating indexes/store/units. Must be
// called with c.mu held exclusively.
func (c *LocalCache[K, V]) insertLocked(key K, val V, ttl time.Duration, ctx entry.Context) bool {
	now := time.Now()
	existing, had := c.data[key]

	var oldVal V
	if had {
		oldVal = existing.Val
		c.currentUnits -= existing.Units
	}

	e := existing
	if !had {
		e = entry.New(key, val, now)
		c.data[key] = e
	} else {
		e.Val = val
	}
	e.Units = c.calculator.CalculateUnits(key, val)
	c.currentUnits += e.Units
	c.setExpiry(e, ttl, now)

	if c.policy != nil {
		c.policy.EntryTouched(key)
	}
	if c.external != nil {
		c.external.EntryTouched(key)
	}

	for _, ix := range c.indexes {
		if had {
			ix.Update(e)
		} else {
			ix.Insert(e)
		}
	}

	c.totalPuts++
	if had {
		c.stats.RecordUpdate()
		c.emit(listener.Event[K, V]{
			Cache: c.name, Type: listener.Updated, Key: key,
			OldValue: oldVal, NewValue: val, HasOld: true, HasNew: true,
			Synthetic: ctx.Synthetic, Expired: ctx.Expired,
		})
	} else {
		c.stats.RecordInsert()
		c.emit(listener.Event[K, V]{
			Cache: c.name, Type: listener.Inserted, Key: key,
			NewValue: val, HasNew: true,
			Synthetic: ctx.Synthetic, Expired: ctx.Expired,
		})
	}

	if c.cstore != nil && !ctx.Suppresses(key) {
		c.writeThrough(key, val)
	}

	if c.currentUnits > c.highUnits {
		c.prune()
	}
	return had
}

func (c *LocalCache[K, V]) setExpiry(e *entry.Entry[K, V], ttl time.Duration, now time.Time) {
	switch {
	case ttl > 0:
		e.ExpiryAt = now.Add(ttl)
	case ttl == TTLNever:
		e.ExpiryAt = time.Time{}
	default: // TTLDefault or any other non-positive value
		if c.expiryDelay > 0 {
			e.ExpiryAt = now.Add(c.expiryDelay)
		} else {
			e.ExpiryAt = time.Time{}
		}
	}
}

// Remove deletes key, calling the backing store's Erase first (spec.md
// §4.1 "Write-through"). Returns the removed value and whether it existed.
func (c *LocalCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(key, entry.User)
}

// removeLocked drops key under the exclusive lock. A ctx with Expired set
// marks an expiry eviction rather than an explicit user removal: the
// backing store is left untouched (evicting from memory is not a logical
// delete of the record) and the stats counter differs accordingly. Policy
// evictions from prune pass a ctx that suppresses writes, so they leave the
// backing store untouched too.
func (c *LocalCache[K, V]) removeLocked(key K, ctx entry.Context) (V, bool) {
	e, ok := c.data[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.cstore != nil && !ctx.Expired && !ctx.Suppresses(key) {
		if err := c.cstore.Erase(key); err != nil && err != store.ErrUnsupported {
			log.Printf("[WARN] cache %s: store.Erase(%v) failed: %v", c.name, key, err)
		}
	}

	val := e.Val
	c.currentUnits -= e.Units
	if c.currentUnits < 0 {
		log.Printf("[ERROR] cache %s: currentUnits went negative after remove, resetting to 0", c.name)
		c.currentUnits = 0
	}
	delete(c.data, key)
	for _, ix := range c.indexes {
		ix.Delete(e)
	}
	if ctx.Expired {
		c.stats.RecordExpired()
	} else {
		c.stats.RecordRemove()
	}
	c.emit(listener.Event[K, V]{
		Cache: c.name, Type: listener.Deleted, Key: key,
		OldValue: val, HasOld: true,
		Synthetic: ctx.Synthetic, Expired: ctx.Expired,
	})
	return val, true
}

// Clear removes every entry, erasing the whole key set from the backing
// store first via EraseAll (spec.md §4.1 "Write-through").
func (c *LocalCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	if c.cstore != nil {
		if err := c.cstore.EraseAll(keys); err != nil && err != store.ErrUnsupported {
			log.Printf("[WARN] cache %s: store.EraseAll failed: %v", c.name, err)
		}
	}
	for _, k := range keys {
		c.removeLocked(k, entry.Synthetic())
	}
	if c.currentUnits != 0 {
		// spec.md §9 Open Question: clear() may yield currentUnits != 0 in
		// pathological cases (listener re-entrancy, unit-calculator
		// misbehavior). Log and repair rather than guess intent.
		log.Printf("[ERROR] cache %s: currentUnits=%d after clear, resetting to 0", c.name, c.currentUnits)
		c.currentUnits = 0
	}
}

// Truncate removes every entry without invoking the backing store or
// emitting per-key events — a fast administrative reset.
func (c *LocalCache[K, V]) Truncate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	// indexes have no bulk-clear: empty them entry by entry and keep them
	// installed, so they fill again as entries are re-inserted
	for _, e := range c.data {
		for _, ix := range c.indexes {
			ix.Delete(e)
		}
	}
	c.data = map[K]*entry.Entry[K, V]{}
	c.currentUnits = 0
}

// Size returns the current number of entries.
func (c *LocalCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Units returns the current accounted units.
func (c *LocalCache[K, V]) Units() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentUnits
}

// Stats returns a point-in-time snapshot of the engine's running counters.
func (c *LocalCache[K, V]) Stats() stats.Snapshot { return c.stats.Snapshot() }

// CacheStat narrows Stats into the teacher-shaped CacheStat.
func (c *LocalCache[K, V]) CacheStat() stats.CacheStat {
	snap := c.stats.Snapshot()
	return snap.CacheStat(c.Size(), int64(c.Units()), c.errorsCount)
}

// AddListener registers l as a global listener for every mutation.
func (c *LocalCache[K, V]) AddListener(l listener.Listener[K, V], lite, async bool) {
	c.listeners.AddGlobalListener(l, lite, async)
}

// AddKeyListener registers l for mutations on key only.
func (c *LocalCache[K, V]) AddKeyListener(key K, l listener.Listener[K, V], lite, async bool) {
	c.listeners.AddKeyListener(key, l, lite, async)
}

// AddFilterListener registers l for mutations whose value matches f.
func (c *LocalCache[K, V]) AddFilterListener(f listener.Filter[V], l listener.Listener[K, V], lite, async bool) {
	c.listeners.AddFilterListener(f, l, lite, async)
}

// RemoveListener deregisters l from the global set.
func (c *LocalCache[K, V]) RemoveListener(l listener.Listener[K, V]) {
	c.listeners.RemoveGlobalListener(l)
}

// RemoveKeyListener deregisters l from key.
func (c *LocalCache[K, V]) RemoveKeyListener(key K, l listener.Listener[K, V]) {
	c.listeners.RemoveKeyListener(key, l)
}

func (c *LocalCache[K, V]) emit(ev listener.Event[K, V]) { c.listeners.Dispatch(ev) }

// Close shuts down background dispatch. The cache itself has no goroutines
// of its own (expiry is lazily flushed on access, per spec.md §9's design
// note preferring that over a background ticker).
func (c *LocalCache[K, V]) Close() { c.listeners.Close() }
