package localcache_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv/extract"
	"github.com/kvengine/corekv/filter"
	"github.com/kvengine/corekv/internal/listener"
	"github.com/kvengine/corekv/localcache"
	"github.com/kvengine/corekv/store"
)

func TestInsertGetRemove(t *testing.T) {
	c := localcache.New[string, int]("t")
	assert.False(t, c.Contains("a"))

	updated := c.Insert("a", 1, localcache.TTLDefault)
	assert.False(t, updated)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	updated = c.Insert("a", 2, localcache.TTLDefault)
	assert.True(t, updated)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)

	removed, ok := c.Remove("a")
	require.True(t, ok)
	assert.Equal(t, 2, removed)
	assert.False(t, c.Contains("a"))
}

func TestExpiry(t *testing.T) {
	c := localcache.New[string, int]("t")
	c.Insert("a", 1, 10*time.Millisecond)
	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestTTLNeverOverridesDefault(t *testing.T) {
	c := localcache.New[string, int]("t", localcache.ExpiryDelay[string, int](5*time.Millisecond))
	c.Insert("a", 1, localcache.TTLNever)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestReadThrough(t *testing.T) {
	backing := store.NewMapStore[string, int]()
	backing.Seed("a", 42)
	c := localcache.New[string, int]("t", localcache.Loader[string, int](backing))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, c.Size())

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestWriteThrough(t *testing.T) {
	backing := store.NewMapStore[string, int]()
	c := localcache.New[string, int]("t", localcache.CacheStore[string, int](backing))

	c.Insert("a", 1, localcache.TTLDefault)
	v, ok, err := backing.Load("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Remove("a")
	_, ok, _ = backing.Load("a")
	assert.False(t, ok)
}

func TestReadOnlyStoreDegradesToWarning(t *testing.T) {
	backing := store.NewMapStore[string, int]()
	backing.ReadOnly = true
	c := localcache.New[string, int]("t", localcache.CacheStore[string, int](backing))

	assert.NotPanics(t, func() {
		c.Insert("a", 1, localcache.TTLDefault)
	})
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestHighLowUnitsEviction(t *testing.T) {
	c := localcache.New[int, int]("t",
		localcache.HighUnits[int, int](10),
		localcache.LowUnits[int, int](5),
	)
	for i := 0; i < 20; i++ {
		c.Insert(i, i, localcache.TTLDefault)
	}
	assert.LessOrEqual(t, c.Units(), 10)
}

// TestHybridEvictsLowPriorityFirst builds a cache with high=10, low=5,
// inserts keys 1..10, touches 1..5 three times each via Get, then inserts
// key 11 to push the cache over its high-water mark. The touched keys and
// the freshly inserted one must survive; only (a subset of) the untouched
// 6..10 may be evicted.
func TestHybridEvictsLowPriorityFirst(t *testing.T) {
	c := localcache.New[int, string]("t",
		localcache.HighUnits[int, string](10),
		localcache.LowUnits[int, string](5),
	)
	for i := 1; i <= 10; i++ {
		c.Insert(i, fmt.Sprintf("v%d", i), localcache.TTLDefault)
	}
	for i := 1; i <= 5; i++ {
		for n := 0; n < 3; n++ {
			_, ok := c.Get(i)
			require.True(t, ok)
		}
	}

	c.Insert(11, "v11", localcache.TTLDefault)

	for i := 1; i <= 5; i++ {
		assert.True(t, c.Contains(i), "touched key %d should survive eviction", i)
	}
	assert.True(t, c.Contains(11), "freshly inserted key should survive eviction")

	for i := 6; i <= 10; i++ {
		if c.Contains(i) {
			continue // evicting a subset of {6..10} is allowed, not mandatory
		}
	}
	assert.LessOrEqual(t, c.Units(), 10)
}

// TestLoaderInsertIsSyntheticAndSuppressesWriteback is spec.md §8 scenario
// 2: a loader returns a value for a key absent from the backing store's own
// ground truth. Reading it through must emit a single synthetic=true
// Inserted event and must NOT write the loaded value back to the store
// (LoadKeyMask-style suppression); a later explicit Insert for the same key
// must write through exactly once.
func TestLoaderInsertIsSyntheticAndSuppressesWriteback(t *testing.T) {
	backing := &countingStore[string, string]{MapStore: store.NewMapStore[string, string]()}
	loader := loaderFunc[string, string](func(key string) (string, bool, error) {
		return "v", true, nil
	})

	c := localcache.New[string, string]("t",
		localcache.CacheStore[string, string](backing),
		localcache.Loader[string, string](loader),
	)

	var events []listener.Event[string, string]
	c.AddListener(listener.Func[string, string](func(e listener.Event[string, string]) {
		events = append(events, e)
	}), false, false)

	v, ok := c.Get("K")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	require.Len(t, events, 1)
	assert.True(t, events[0].Synthetic, "loader-driven insert must be marked synthetic")
	assert.Equal(t, int32(0), backing.storeCalls.Load(), "loaded value must not be written back to the store")

	c.Insert("K", "v2", localcache.TTLDefault)
	assert.Equal(t, int32(1), backing.storeCalls.Load(), "explicit insert must write through exactly once")
	stored, ok, err := backing.Load("K")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", stored)
}

// loaderFunc adapts a plain function to store.Loader.
type loaderFunc[K comparable, V any] func(key K) (V, bool, error)

func (f loaderFunc[K, V]) Load(key K) (V, bool, error) { return f(key) }

func (f loaderFunc[K, V]) LoadAll(keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		v, ok, err := f(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// countingStore wraps *store.MapStore to count Store calls, so tests can
// assert write-through suppression without a mock framework.
type countingStore[K comparable, V any] struct {
	*store.MapStore[K, V]
	storeCalls atomic.Int32
}

func (s *countingStore[K, V]) Store(key K, val V) error {
	s.storeCalls.Add(1)
	return s.MapStore.Store(key, val)
}

func TestListenerDispatch(t *testing.T) {
	c := localcache.New[string, int]("t")
	events := make(chan listener.Event[string, int], 8)
	c.AddListener(listener.Func[string, int](func(e listener.Event[string, int]) {
		events <- e
	}), false, false)

	c.Insert("a", 1, localcache.TTLDefault)
	select {
	case ev := <-events:
		assert.Equal(t, listener.Inserted, ev.Type)
		assert.Equal(t, 1, ev.NewValue)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insert event")
	}

	c.Remove("a")
	select {
	case ev := <-events:
		assert.Equal(t, listener.Deleted, ev.Type)
		assert.Equal(t, 1, ev.OldValue)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delete event")
	}
}

type person struct {
	Name string
	City string
}

func TestIndexAwareFilterQuery(t *testing.T) {
	c := localcache.New[string, person]("t")
	c.AddIndex("city", extract.Func[person](func(p person) (any, bool) { return p.City, true }))

	c.Insert("1", person{Name: "alice", City: "nyc"}, localcache.TTLDefault)
	c.Insert("2", person{Name: "bob", City: "sf"}, localcache.TTLDefault)
	c.Insert("3", person{Name: "carol", City: "nyc"}, localcache.TTLDefault)

	f := filter.Equal[string, person]{
		IndexName: "city",
		Extract:   func(p person) (any, bool) { return p.City, true },
		Value:     "nyc",
	}
	keys := c.GetKeys(f)
	assert.ElementsMatch(t, []string{"1", "3"}, keys)
}

func TestInvokeMutatesAtomically(t *testing.T) {
	c := localcache.New[string, int]("t")
	c.Insert("a", 1, localcache.TTLDefault)

	result, err := c.Invoke("a", localcache.ProcessorFunc[string, int](
		func(e *localcache.MutableEntry[string, int]) (any, error) {
			v, _ := e.Value()
			e.SetValue(v + 1)
			return v, nil
		}))
	require.NoError(t, err)
	assert.Equal(t, 1, result)
	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
}

func TestInvokeErrorAbortsMutation(t *testing.T) {
	c := localcache.New[string, int]("t")
	c.Insert("a", 1, localcache.TTLDefault)

	boom := errors.New("boom")
	_, err := c.Invoke("a", localcache.ProcessorFunc[string, int](
		func(e *localcache.MutableEntry[string, int]) (any, error) {
			e.SetValue(99)
			return nil, boom
		}))
	assert.ErrorIs(t, err, boom)
	v, _ := c.Get("a")
	assert.Equal(t, 1, v)
}

func TestLockReentrant(t *testing.T) {
	c := localcache.New[string, int]("t")
	owner := localcache.NewLockOwner()
	require.True(t, c.Lock("a", owner, 0))
	require.True(t, c.Lock("a", owner, 0)) // re-entrant
	assert.True(t, c.Unlock("a", owner))
	assert.True(t, c.Unlock("a", owner))
	assert.False(t, c.Unlock("a", owner))
}

func TestLockExcludesOtherOwner(t *testing.T) {
	c := localcache.New[string, int]("t")
	o1, o2 := localcache.NewLockOwner(), localcache.NewLockOwner()
	require.True(t, c.Lock("a", o1, 0))
	assert.False(t, c.Lock("a", o2, 0))
	assert.True(t, c.Unlock("a", o1))
	assert.True(t, c.Lock("a", o2, 0))
}

func TestClearErasesBackingStore(t *testing.T) {
	backing := store.NewMapStore[string, int]()
	c := localcache.New[string, int]("t", localcache.CacheStore[string, int](backing))
	c.Insert("a", 1, localcache.TTLDefault)
	c.Insert("b", 2, localcache.TTLDefault)

	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, 0, backing.Len())
}
