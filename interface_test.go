package corekv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv"
)

func TestNopCacheNeverCaches(t *testing.T) {
	n := corekv.NewNopCache()

	calls := 0
	load := func() (corekv.Value, error) { calls++; return "v", nil }

	v, err := n.Get("k", load)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	v, err = n.Get("k", load)
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.Equal(t, 2, calls, "Nop must call fn every time")

	_, ok := n.Peek("k")
	assert.False(t, ok)
	assert.Equal(t, corekv.CacheStat{}, n.Stat())
	assert.NoError(t, n.Close())
}
