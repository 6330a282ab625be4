package localcache

import (
	"github.com/kvengine/corekv/filter"
	"github.com/kvengine/corekv/internal/entry"
)

// MutableEntry is the view an EntryProcessor operates on: the current
// value (if present) and a mutation surface (SetValue/Remove), per spec.md
// §4.1 "Invocation".
type MutableEntry[K comparable, V any] struct {
	key     K
	value   V
	present bool
	removed bool
	changed bool
}

// Key returns the entry's key.
func (m *MutableEntry[K, V]) Key() K { return m.key }

// Value returns the current value and whether the entry exists.
func (m *MutableEntry[K, V]) Value() (V, bool) { return m.value, m.present }

// IsPresent reports whether the entry currently exists.
func (m *MutableEntry[K, V]) IsPresent() bool { return m.present }

// SetValue stages an insert/update of v, applied after Process returns.
func (m *MutableEntry[K, V]) SetValue(v V) {
	m.value, m.present, m.changed, m.removed = v, true, true, false
}

// Remove stages a removal, applied after Process returns.
func (m *MutableEntry[K, V]) Remove() {
	m.changed, m.removed = true, true
}

// Processor mutates one entry under the cache's exclusive lock, per
// spec.md §4.1 "Invocation": the mutation (if any) is applied atomically
// with the processor's own logic, and exactly one listener event fires for
// it, same as any other Insert/Remove.
type Processor[K comparable, V any] interface {
	Process(e *MutableEntry[K, V]) (any, error)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc[K comparable, V any] func(e *MutableEntry[K, V]) (any, error)

// Process calls f.
func (f ProcessorFunc[K, V]) Process(e *MutableEntry[K, V]) (any, error) { return f(e) }

// Aggregator reduces over a set of entries (spec.md §4.1 "Aggregation"):
// Accumulate is called once per matching entry, in no particular order,
// and Result is read once at the end.
type Aggregator[K comparable, V any] interface {
	Accumulate(e Entry[K, V])
	Result() any
}

// Invoke runs p against key's entry under the cache's exclusive lock and
// applies whatever mutation p staged. A non-nil error from p aborts the
// mutation entirely, leaving the entry untouched.
func (c *LocalCache[K, V]) Invoke(key K, p Processor[K, V]) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invokeLocked(key, p)
}

func (c *LocalCache[K, V]) invokeLocked(key K, p Processor[K, V]) (any, error) {
	e, existed := c.data[key]
	me := &MutableEntry[K, V]{key: key, present: existed}
	if existed {
		me.value = e.Val
	}

	result, err := p.Process(me)
	if err != nil {
		return nil, err
	}

	if me.changed {
		if me.removed {
			c.removeLocked(key, entry.User)
		} else {
			c.insertLocked(key, me.value, TTLDefault, entry.User)
		}
	}
	return result, nil
}

// InvokeAll runs p once per key matching f, each under its own exclusive
// section (spec.md §4.1: "invokeAll resolves the filter, then invokes the
// processor per key"). Returns the per-key results; a key whose Process
// call errored is omitted and its error collected separately.
func (c *LocalCache[K, V]) InvokeAll(f filter.Filter[K, V], p Processor[K, V]) (map[K]any, map[K]error) {
	c.mu.RLock()
	keys := c.resolveKeysLocked(f)
	matched := make([]K, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.data[k]; ok && f.Matches(e.Val) {
			matched = append(matched, k)
		}
	}
	c.mu.RUnlock()

	results := make(map[K]any, len(matched))
	errs := map[K]error{}
	for _, k := range matched {
		c.mu.Lock()
		res, err := c.invokeLocked(k, p)
		c.mu.Unlock()
		if err != nil {
			errs[k] = err
			continue
		}
		results[k] = res
	}
	if len(errs) == 0 {
		errs = nil
	}
	return results, errs
}

// Aggregate feeds every entry matching f into agg and returns agg.Result().
func (c *LocalCache[K, V]) Aggregate(f filter.Filter[K, V], agg Aggregator[K, V]) any {
	for _, e := range c.GetEntries(f) {
		agg.Accumulate(e)
	}
	return agg.Result()
}

