package nearcache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv/localcache"
	"github.com/kvengine/corekv/nearcache"
	"github.com/kvengine/corekv/store"
)

// memBus is an in-process eventbus.PubSub fan-out, standing in for Redis in
// tests that need two NearCache instances to actually see each other's
// invalidations.
type memBus struct {
	mu   sync.Mutex
	subs []func(fromID, key string)
}

func (b *memBus) Publish(fromID, key string) error {
	b.mu.Lock()
	subs := append([]func(string, string){}, b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(fromID, key)
	}
	return nil
}

func (b *memBus) Subscribe(fn func(fromID, key string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
	return nil
}

func TestNearCacheGetPopulatesFront(t *testing.T) {
	back := store.NewMapStore[string, int]()
	back.Seed("a", 1)
	front := localcache.New[string, int]("front")

	nc := nearcache.New[string, int]("nc", front, back)
	v, ok := nc.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, front.Contains("a"))

	v2, ok := front.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v2)
}

func TestNearCacheCrossProcessInvalidation(t *testing.T) {
	back := store.NewMapStore[string, int]()
	back.Seed("a", 1)
	bus := &memBus{}

	frontA := localcache.New[string, int]("a")
	ncA := nearcache.New[string, int]("nc-a", frontA, back, nearcache.WithEventBus[string, int](bus))

	frontB := localcache.New[string, int]("b")
	ncB := nearcache.New[string, int]("nc-b", frontB, back, nearcache.WithEventBus[string, int](bus))

	_, _ = ncA.Get("a")
	_, _ = ncB.Get("a")
	assert.True(t, frontA.Contains("a"))
	assert.True(t, frontB.Contains("a"))

	back.Seed("a", 2)
	ncA.Invalidate("a")

	// ncA invalidated its own front directly; ncB hears it over the bus.
	assert.False(t, frontA.Contains("a"))
	assert.False(t, frontB.Contains("a"))

	v, ok := ncB.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestNearCacheInvalidateNoneDoesNotPropagate(t *testing.T) {
	back := store.NewMapStore[string, int]()
	back.Seed("a", 1)
	bus := &memBus{}

	frontA := localcache.New[string, int]("a")
	_ = nearcache.New[string, int]("nc-a", frontA, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateNone))

	frontB := localcache.New[string, int]("b")
	ncB := nearcache.New[string, int]("nc-b", frontB, back, nearcache.WithEventBus[string, int](bus))
	_, _ = ncB.Get("a")
	require.True(t, frontB.Contains("a"))

	frontA.Insert("a", 1, localcache.TTLDefault) // local-only write, no publish expected

	time.Sleep(10 * time.Millisecond)
	assert.True(t, frontB.Contains("a"))
}

func TestNearCacheInvalidateAutoActsLikePresentBelowThreshold(t *testing.T) {
	back := store.NewMapStore[string, int]()
	back.Seed("a", 1)
	back.Seed("b", 2)
	bus := &memBus{}

	frontA := localcache.New[string, int]("a")
	ncA := nearcache.New[string, int]("nc-a", frontA, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateAuto))
	frontB := localcache.New[string, int]("b")
	ncB := nearcache.New[string, int]("nc-b", frontB, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateAuto))

	_, _ = ncA.Get("a")
	_, _ = ncA.Get("b")
	_, _ = ncB.Get("a")
	_, _ = ncB.Get("b")

	ncA.Invalidate("a")
	assert.False(t, frontB.Contains("a"), "Auto below threshold should only drop the single invalidated key")
	assert.True(t, frontB.Contains("b"), "Auto below threshold must not clear unrelated keys")
}

func TestNearCacheInvalidateAutoUpgradesToAllPastThreshold(t *testing.T) {
	back := store.NewMapStore[string, int]()
	bus := &memBus{}

	frontA := localcache.New[string, int]("a")
	ncA := nearcache.New[string, int]("nc-a", frontA, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateAuto))
	frontB := localcache.New[string, int]("b")
	ncB := nearcache.New[string, int]("nc-b", frontB, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateAuto))

	back.Seed("sentinel", 99)
	_, _ = ncB.Get("sentinel")
	require.True(t, frontB.Contains("sentinel"))

	// Drive enough distinct-key invalidations through ncA to cross
	// autoUpgradeThreshold; ncB must still react correctly once ncA
	// switches to publishing full-clear markers.
	for i := 0; i < 1100; i++ {
		ncA.Invalidate(fmt.Sprintf("k%d", i))
	}
	assert.False(t, frontB.Contains("sentinel"), "Auto past threshold should have upgraded to a full clear")
}

func TestNearCacheInvalidateAllPropagates(t *testing.T) {
	back := store.NewMapStore[string, int]()
	back.Seed("a", 1)
	back.Seed("b", 2)
	bus := &memBus{}

	frontA := localcache.New[string, int]("a")
	ncA := nearcache.New[string, int]("nc-a", frontA, back, nearcache.WithEventBus[string, int](bus))
	frontB := localcache.New[string, int]("b")
	ncB := nearcache.New[string, int]("nc-b", frontB, back,
		nearcache.WithEventBus[string, int](bus),
		nearcache.WithStrategy[string, int](nearcache.InvalidateAll))

	_, _ = ncA.Get("a")
	_, _ = ncB.Get("a")
	_, _ = ncB.Get("b")

	ncA.InvalidateAll()
	assert.False(t, frontB.Contains("a"))
	assert.False(t, frontB.Contains("b"))
}
