package localcache

import (
	"github.com/kvengine/corekv/extract"
	"github.com/kvengine/corekv/filter"
	"github.com/kvengine/corekv/internal/idx"
)

// AddIndex installs an attribute index named name over extractor, backfilling
// it from every entry currently present (spec.md §4.1 "Index management").
// Installing an index under a name that already exists replaces it.
func (c *LocalCache[K, V]) AddIndex(name string, extractor extract.Extractor[V], opts ...idx.Option[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix := idx.New[K, V](name, extractor, opts...)
	for _, e := range c.data {
		ix.Insert(e)
	}
	c.indexes[name] = ix
}

// RemoveIndex drops the named index.
func (c *LocalCache[K, V]) RemoveIndex(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, name)
}

func (c *LocalCache[K, V]) indexSetLocked() filter.IndexSet[K, V] {
	set := make(filter.IndexSet[K, V], len(c.indexes))
	for name, ix := range c.indexes {
		set[name] = ix
	}
	return set
}

// resolveKeysLocked returns the candidate key set for f: the result of an
// index-aware ApplyIndex when possible, or every key as a full-scan
// fallback. Must be called with c.mu held (read or write).
func (c *LocalCache[K, V]) resolveKeysLocked(f filter.Filter[K, V]) []K {
	all := make([]K, 0, len(c.data))
	for k := range c.data {
		all = append(all, k)
	}
	ia, ok := f.(filter.IndexAware[K, V])
	if !ok {
		return all
	}
	narrowed, applied := ia.ApplyIndex(c.indexSetLocked(), all)
	if !applied {
		return all
	}
	return narrowed
}

// Keys returns every key currently present, unfiltered.
func (c *LocalCache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]K, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	return out
}

// GetKeys returns every key whose value matches f, narrowing via index
// when f is index-aware, and always re-validating candidates against
// Matches so a stale or partial index can never produce a false positive.
func (c *LocalCache[K, V]) GetKeys(f filter.Filter[K, V]) []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := c.resolveKeysLocked(f)
	out := make([]K, 0, len(candidates))
	for _, k := range candidates {
		if e, ok := c.data[k]; ok && f.Matches(e.Val) {
			out = append(out, k)
		}
	}
	return out
}

// GetValues returns the values of every entry matching f.
func (c *LocalCache[K, V]) GetValues(f filter.Filter[K, V]) []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := c.resolveKeysLocked(f)
	out := make([]V, 0, len(candidates))
	for _, k := range candidates {
		if e, ok := c.data[k]; ok && f.Matches(e.Val) {
			out = append(out, e.Val)
		}
	}
	return out
}

// GetEntries returns key/value snapshots of every entry matching f.
func (c *LocalCache[K, V]) GetEntries(f filter.Filter[K, V]) []Entry[K, V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candidates := c.resolveKeysLocked(f)
	out := make([]Entry[K, V], 0, len(candidates))
	for _, k := range candidates {
		if e, ok := c.data[k]; ok && f.Matches(e.Val) {
			out = append(out, Entry[K, V]{Key: k, Value: e.Val})
		}
	}
	return out
}
