package bundler_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv/bundler"
)

// TestBundlerCoalesces100Inserts is spec.md §8 end-to-end scenario 4:
// sizeThreshold=50, threadThreshold=2, delayMillis=5, 100 concurrent
// process(i, "v"+i) calls. bulk must be called with total size == 100, at
// most 4 times, and every i in [0,99] delivered exactly once.
func TestBundlerCoalesces100Inserts(t *testing.T) {
	var mu sync.Mutex
	var calls int
	seen := map[int]int{}

	bulk := func(items map[int]string) (map[int]string, error) {
		mu.Lock()
		calls++
		for k := range items {
			seen[k]++
		}
		mu.Unlock()
		return items, nil
	}

	b := bundler.New[int, string](bulk,
		bundler.SizeThreshold[int, string](50),
		bundler.ThreadThreshold[int, string](2),
		bundler.DelayMillis[int, string](5))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Process(i, fmt.Sprintf("v%d", i))
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("v%d", i), v)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, calls, 4, "bulk should be called at most 4 times")
	require.Len(t, seen, 100, "every key must be delivered at least once")
	total := 0
	for i := 0; i < 100; i++ {
		assert.Equal(t, 1, seen[i], "key %d delivered more than once", i)
		total += seen[i]
	}
	assert.Equal(t, 100, total)
}

// TestBundlerFastPathBelowThreadThreshold exercises spec.md §4.4's fast
// path: under threadThreshold concurrency, process calls bulk directly with
// a singleton map rather than waiting for a bundle to fill or close.
func TestBundlerFastPathBelowThreadThreshold(t *testing.T) {
	var calls int32
	bulk := func(items map[string]int) (map[string]int, error) {
		calls++
		return items, nil
	}

	b := bundler.New[string, int](bulk, bundler.ThreadThreshold[string, int](4))
	v, err := b.Process("a", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.EqualValues(t, 1, calls)
}

// TestBundlerBurstExceptionFallsBackToSingleton exercises spec.md §4.4's
// EXCEPTION path: when bulk fails for a burst, every waiter (and the burst
// thread itself) falls back to an un-bundled singleton call instead of
// propagating the shared error to every participant.
func TestBundlerBurstExceptionFallsBackToSingleton(t *testing.T) {
	var mu sync.Mutex
	var callSizes []int
	boom := fmt.Errorf("backend unavailable")

	first := true
	bulk := func(items map[int]string) (map[int]string, error) {
		mu.Lock()
		callSizes = append(callSizes, len(items))
		fail := first && len(items) > 1
		if fail {
			first = false
		}
		mu.Unlock()
		if fail {
			return nil, boom
		}
		return items, nil
	}

	b := bundler.New[int, string](bulk,
		bundler.SizeThreshold[int, string](50),
		bundler.ThreadThreshold[int, string](2),
		bundler.DelayMillis[int, string](20))

	var wg sync.WaitGroup
	results := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Process(i, fmt.Sprintf("v%d", i))
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("v%d", i), results[i])
	}
}
