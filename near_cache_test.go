package corekv_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv"
)

func TestDistributedCacheGetLoadsOnMiss(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := corekv.NewDistributedCache(mr.Addr(), "test")
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	load := func() (corekv.Value, error) { calls++; return "v1", nil }

	v, err := c.Get("a", load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = c.Get("a", load)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, calls)
}

func TestDistributedCachePurge(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := corekv.NewDistributedCache(mr.Addr(), "test")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get("a", func() (corekv.Value, error) { return "v1", nil })
	require.NoError(t, err)
	_, ok := c.Peek("a")
	require.True(t, ok)

	c.Purge()
	_, ok = c.Peek("a")
	assert.False(t, ok)
}

func TestNewNearScheme(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := corekv.New("near://" + mr.Addr() + "/test")
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &corekv.DistributedCache{}, c)
}
