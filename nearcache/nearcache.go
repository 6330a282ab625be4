package nearcache

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kvengine/corekv/eventbus"
	"github.com/kvengine/corekv/store"
)

// Strategy selects how a NearCache reconciles its front with changes made
// to the back, per spec.md §4.5.
type Strategy int

const (
	// InvalidateNone never invalidates proactively; entries only leave the
	// front through its own eviction/expiry. Correct only when the back is
	// append-only or staleness is acceptable.
	InvalidateNone Strategy = iota
	// InvalidatePresent removes exactly the changed key from the front,
	// wherever that front lives (this process or another one sharing the
	// event bus).
	InvalidatePresent
	// InvalidateAll clears every front sharing the event bus on any change,
	// the safest and most expensive strategy.
	InvalidateAll
	// InvalidateAuto starts out behaving like InvalidatePresent, then
	// permanently upgrades to InvalidateAll's full clears once the distinct
	// key set it has seen grows past autoUpgradeThreshold (and, as with the
	// other strategies, a change that can't be pinned to one key, e.g. a
	// Clear(), always clears the whole front), per spec.md §4.5 "Auto
	// invalidation".
	InvalidateAuto
)

// allKeysMarker is published in place of a real key to signal "the whole
// back changed": by the InvalidateAll method under every strategy but
// InvalidateNone, and by Invalidate under InvalidateAuto once it has
// upgraded.
const allKeysMarker = "\x00__nearcache_all__\x00"

// autoUpgradeThreshold is the distinct-key count at which InvalidateAuto
// stops tracking individual keys and upgrades to InvalidateAll's
// clear-everything behavior, per spec.md §4.5 "switch to All when the
// front 'present' listener set grows large": past this many distinct keys,
// per-key bookkeeping costs more than it saves over a blanket clear.
const autoUpgradeThreshold = 1024

// NearCache composes a local Front with a shared back source of record,
// keeping the front coherent across processes via an eventbus.PubSub
// invalidation channel (spec.md §4.5 "Service restart" and "Invalidation
// strategies").
type NearCache[K comparable, V any] struct {
	name     string
	front    Front[K, V]
	back     store.Loader[K, V]
	strategy Strategy
	ttl      time.Duration

	bus    eventbus.PubSub
	nodeID string

	keyCodec   func(K) string
	keyDecoder func(string) (K, bool)

	mu          sync.Mutex
	closed      bool
	autoKeys    map[string]struct{} // distinct keys seen under InvalidateAuto
	autoUpgrade bool                // true once autoKeys grew past autoUpgradeThreshold
}

// Option configures a NearCache at construction.
type Option[K comparable, V any] func(*NearCache[K, V])

// WithStrategy overrides the default InvalidatePresent strategy.
func WithStrategy[K comparable, V any](s Strategy) Option[K, V] {
	return func(n *NearCache[K, V]) { n.strategy = s }
}

// WithTTL sets the TTL applied to entries populated into the front.
func WithTTL[K comparable, V any](d time.Duration) Option[K, V] {
	return func(n *NearCache[K, V]) { n.ttl = d }
}

// WithEventBus attaches the cross-process invalidation channel (default
// eventbus.NopPubSub, i.e. this process's front never hears about other
// processes' writes).
func WithEventBus[K comparable, V any](bus eventbus.PubSub) Option[K, V] {
	return func(n *NearCache[K, V]) { n.bus = bus }
}

// WithKeyCodec overrides how keys are rendered onto the event bus wire
// (default: fmt.Sprint). Pair it with WithKeyDecoder so remote
// invalidations for InvalidatePresent/InvalidateAuto can be applied to a
// single front entry instead of falling back to a full clear.
func WithKeyCodec[K comparable, V any](f func(K) string) Option[K, V] {
	return func(n *NearCache[K, V]) { n.keyCodec = f }
}

// WithKeyDecoder overrides how a wire-format key is parsed back into K for
// remote invalidations. The default decoder only handles K=string.
func WithKeyDecoder[K comparable, V any](f func(string) (K, bool)) Option[K, V] {
	return func(n *NearCache[K, V]) { n.keyDecoder = f }
}

// New builds a NearCache named name, fronting back with front. The node
// subscribes to bus immediately so it starts hearing invalidations before
// any front population can race a concurrent writer.
func New[K comparable, V any](name string, front Front[K, V], back store.Loader[K, V], opts ...Option[K, V]) *NearCache[K, V] {
	n := &NearCache[K, V]{
		name:     name,
		front:    front,
		back:     back,
		strategy: InvalidatePresent,
		bus:      &eventbus.NopPubSub{},
		nodeID:   uuid.NewString(),
		keyCodec: func(k K) string { return fmt.Sprintf("%v", k) },
		keyDecoder: func(s string) (K, bool) {
			k, ok := any(s).(K)
			return k, ok
		},
		autoKeys: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(n)
	}
	if err := n.bus.Subscribe(n.onInvalidation); err != nil {
		log.Printf("[ERROR] nearcache %s: subscribe failed: %v", name, err)
	}
	return n
}

// Get returns key's value, populating the front from the back on a miss.
func (n *NearCache[K, V]) Get(key K) (V, bool) {
	if v, ok := n.front.Get(key); ok {
		return v, true
	}
	v, found, err := n.back.Load(key)
	if err != nil {
		log.Printf("[WARN] nearcache %s: back.Load(%v) failed: %v", n.name, key, err)
		var zero V
		return zero, false
	}
	if !found {
		var zero V
		return zero, false
	}
	n.front.Insert(key, v, n.ttl)
	return v, true
}

// Populate inserts val into the front directly, for callers that resolved
// key themselves (e.g. a cache-aside loader function) rather than through
// Get's built-in back lookup. No invalidation is published: this is a
// population, not a change to the back's state.
func (n *NearCache[K, V]) Populate(key K, val V) { n.front.Insert(key, val, n.ttl) }

// Invalidate drops key from this process's front and, per the configured
// strategy, tells every other process sharing the event bus to do the same.
func (n *NearCache[K, V]) Invalidate(key K) {
	n.front.Remove(key)
	if n.strategy == InvalidateNone {
		return
	}
	if n.strategy == InvalidateAuto && n.autoTrackAndUpgraded(n.keyCodec(key)) {
		n.front.Clear()
		if err := n.bus.Publish(n.nodeID, allKeysMarker); err != nil {
			log.Printf("[WARN] nearcache %s: publish full invalidation failed: %v", n.name, err)
		}
		return
	}
	if err := n.bus.Publish(n.nodeID, n.keyCodec(key)); err != nil {
		log.Printf("[WARN] nearcache %s: publish invalidation failed: %v", n.name, err)
	}
}

// autoTrackAndUpgraded records wireKey against the InvalidateAuto distinct-key
// set and reports whether the set has crossed autoUpgradeThreshold, on this
// call or an earlier one; the first crossing permanently switches this
// NearCache from Present-style single-key invalidation to All-style full
// clears.
func (n *NearCache[K, V]) autoTrackAndUpgraded(wireKey string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.autoUpgrade {
		return true
	}
	n.autoKeys[wireKey] = struct{}{}
	if len(n.autoKeys) > autoUpgradeThreshold {
		n.autoUpgrade = true
		n.autoKeys = nil
		return true
	}
	return false
}

// InvalidateAll drops every entry from this process's front and broadcasts
// a full-clear signal, used after a bulk back mutation whose exact key set
// isn't known locally (spec.md §4.5 "Clear/truncate propagation").
func (n *NearCache[K, V]) InvalidateAll() {
	n.front.Clear()
	if n.strategy == InvalidateNone {
		return
	}
	if err := n.bus.Publish(n.nodeID, allKeysMarker); err != nil {
		log.Printf("[WARN] nearcache %s: publish full invalidation failed: %v", n.name, err)
	}
}

// onInvalidation is the event-bus callback: it reconciles this process's
// front against a change published by another NearCache instance (or, in
// the InvalidateAuto/All strategies, possibly by itself after a service
// restart reused a node ID — harmless, since invalidation is idempotent).
func (n *NearCache[K, V]) onInvalidation(fromID, wireKey string) {
	if fromID == n.nodeID {
		return // our own write already invalidated the front directly
	}
	if wireKey == allKeysMarker {
		n.front.Clear()
		return
	}
	switch n.strategy {
	case InvalidateAll:
		n.front.Clear()
	case InvalidatePresent:
		n.removeByWireKey(wireKey)
	case InvalidateAuto:
		if n.autoTrackAndUpgraded(wireKey) {
			n.front.Clear()
			return
		}
		n.removeByWireKey(wireKey)
	}
}

// removeByWireKey applies a single-key remote invalidation. If keyDecoder
// can't recover the original K (the default decoder only handles
// K=string), it degrades to a full clear rather than leaving a stale entry
// behind.
func (n *NearCache[K, V]) removeByWireKey(wireKey string) {
	key, ok := n.keyDecoder(wireKey)
	if !ok {
		n.front.Clear()
		return
	}
	n.front.Remove(key)
}

// Release drops key from the front only, without touching the back or
// notifying other processes (spec.md §4.5 "Release"): a purely local
// eviction hint.
func (n *NearCache[K, V]) Release(key K) { n.front.Remove(key) }

// Destroy marks this NearCache closed and clears the front. It does not
// unsubscribe from the event bus (PubSub has no unsubscribe), so later
// invalidations still reach the front. The back and the bus itself are left
// running, since other NearCache instances may still be using them.
func (n *NearCache[K, V]) Destroy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.front.Clear()
}
