package corekv_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv"
)

func TestCacheGetLoadsOnMiss(t *testing.T) {
	c, err := corekv.NewCache()
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	load := func() (corekv.Value, error) { calls++; return 42, nil }

	v, err := c.Get("a", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.Get("a", load)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "second Get should hit the cache, not call fn again")
}

func TestCacheGetPropagatesLoaderError(t *testing.T) {
	c, err := corekv.NewCache()
	require.NoError(t, err)
	defer c.Close()

	boom := errors.New("boom")
	_, err = c.Get("a", func() (corekv.Value, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	_, ok := c.Peek("a")
	assert.False(t, ok)
}

func TestCacheMaxKeysEvicts(t *testing.T) {
	c, err := corekv.NewCache(corekv.MaxKeys(5))
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 50; i++ {
		key := strconv.Itoa(i)
		_, err := c.Get(key, func() (corekv.Value, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.Stat().Keys, 5)
}

func TestCachePurgeAndInvalidate(t *testing.T) {
	c, err := corekv.NewCache()
	require.NoError(t, err)
	defer c.Close()

	_, _ = c.Get("a", func() (corekv.Value, error) { return 1, nil })
	_, _ = c.Get("b", func() (corekv.Value, error) { return 2, nil })

	c.Invalidate(func(key string) bool { return key == "a" })
	_, ok := c.Peek("a")
	assert.False(t, ok)
	_, ok = c.Peek("b")
	assert.True(t, ok)

	c.Purge()
	_, ok = c.Peek("b")
	assert.False(t, ok)
}

type sized struct{ n int }

func (s sized) Size() int { return s.n }

func TestCacheMaxValSizeRejectsOversizedValues(t *testing.T) {
	c, err := corekv.NewCache(corekv.MaxValSize(10))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get("big", func() (corekv.Value, error) { return sized{n: 100}, nil })
	require.NoError(t, err)
	_, ok := c.Peek("big")
	assert.False(t, ok, "oversized value should not be cached")
}
