// Package idx implements SimpleCacheIndex from spec.md §4.2: a forward +
// inverted index over one value extractor, maintained incrementally under
// insert/update/delete, correct on collection-valued attributes and
// tolerant of extraction failures.
package idx

import (
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/kvengine/corekv/extract"
	"github.com/kvengine/corekv/internal/entry"
)

// noValue is the sentinel distinct from any legitimate extracted value,
// including a legitimate nil. Get returns it (ok=false) for excluded keys.
type noValue struct{}

// NoValue is spec.md §3/§4.2's NO_VALUE sentinel.
var NoValue any = noValue{}

// Index is SimpleCacheIndex: forward map (key -> extracted value), inverted
// map (extracted value -> set of keys), and an excluded-keys set for
// entries whose extraction failed.
type Index[K comparable, V any] struct {
	name        string
	extractor   extract.Extractor[V]
	splitOnColl bool // spec.md §4.2 "Collection handling": split collection-valued attributes
	immutable   bool // key-extractor optimization: Update is a no-op
	partial     bool // a partial index does not guarantee an inverted bucket for every forward entry

	mu       sync.Mutex
	forward  map[K]any
	inverted map[any]map[K]struct{}
	excluded map[K]struct{}

	warnMu     sync.Mutex
	warnCount  int
	warnWindow time.Time
}

// Option configures an Index at construction.
type Option[K comparable, V any] func(*Index[K, V])

// SplitCollections enables per-element reverse mapping for collection- or
// array-valued attributes (the default unless a multi-extractor was used;
// callers building a multi-valued extractor should pass false).
func SplitCollections[K comparable, V any](split bool) Option[K, V] {
	return func(ix *Index[K, V]) { ix.splitOnColl = split }
}

// Partial marks the index as partial: missing-inverse-bucket warnings are
// suppressed entirely rather than rate-limited, since a partial index never
// promises a bucket for every forward entry.
func Partial[K comparable, V any](partial bool) Option[K, V] {
	return func(ix *Index[K, V]) { ix.partial = partial }
}

// New builds a SimpleCacheIndex named name over extractor. If extractor
// implements extract.KeyExtractor, the immutable-values optimization is
// enabled automatically (spec.md §4.2).
func New[K comparable, V any](name string, extractor extract.Extractor[V], opts ...Option[K, V]) *Index[K, V] {
	_, immutable := extractor.(extract.KeyExtractor[K, V])
	ix := &Index[K, V]{
		name:        name,
		extractor:   extractor,
		splitOnColl: true,
		immutable:   immutable,
		forward:     map[K]any{},
		inverted:    map[any]map[K]struct{}{},
		excluded:    map[K]struct{}{},
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// IsPartial reports spec.md §4.2's isPartial property.
func (ix *Index[K, V]) IsPartial() bool { return ix.partial }

// ImmutableValues reports whether the key-extractor optimization is active.
func (ix *Index[K, V]) ImmutableValues() bool { return ix.immutable }

func (ix *Index[K, V]) extract(e *entry.Entry[K, V]) (any, bool) {
	if ke, ok := ix.extractor.(extract.KeyExtractor[K, V]); ok {
		return ke.ExtractFromKey(e.Key)
	}
	return ix.extractor.Extract(e.Val)
}

// Insert adds e to the index, per spec.md §4.2 "Insert".
func (ix *Index[K, V]) Insert(e *entry.Entry[K, V]) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	v, ok := ix.extract(e)
	if !ok {
		ix.excluded[e.Key] = struct{}{}
		return
	}
	ix.addToInverted(v, e.Key)
	ix.forward[e.Key] = v
	delete(ix.excluded, e.Key)
}

// Update incrementally maintains the index for e's new value, per spec.md
// §4.2 "Update". A no-op when the index is over a key extractor
// (immutable values).
func (ix *Index[K, V]) Update(e *entry.Entry[K, V]) {
	if ix.immutable {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vNew, okNew := ix.extract(e)
	_, wasExcluded := ix.excluded[e.Key]
	vOld, hadForward := ix.forward[e.Key]

	if !wasExcluded && hadForward && okNew && deepEqual(vOld, vNew) {
		return
	}
	if !wasExcluded && !hadForward && !okNew {
		return // stayed excluded, nothing to do
	}

	switch {
	case wasExcluded:
		// old extraction had failed: we have no known bucket to remove from
		// directly, so scan every bucket and drop this key unless it still
		// belongs there under the new value (spec.md §4.2).
		newSet := ix.elementSet(vNew, okNew)
		ix.fullScanRemove(e.Key, newSet)
	case ix.splitOnColl && isCollection(vOld):
		oldSet := collectionElements(vOld)
		newSet := ix.elementSet(vNew, okNew)
		for _, elem := range oldSet {
			if _, keep := newSet[elem]; !keep {
				ix.removeFromInverted(elem, e.Key)
			}
		}
	default:
		ix.removeFromInverted(vOld, e.Key)
	}

	if !okNew {
		delete(ix.forward, e.Key)
		ix.excluded[e.Key] = struct{}{}
		return
	}
	ix.addToInverted(vNew, e.Key)
	ix.forward[e.Key] = vNew
	delete(ix.excluded, e.Key)
}

// Delete removes e from the index, per spec.md §4.2 "Delete".
func (ix *Index[K, V]) Delete(e *entry.Entry[K, V]) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if v, ok := ix.forward[e.Key]; ok {
		ix.removeFromInverted(v, e.Key)
		delete(ix.forward, e.Key)
	}
	delete(ix.excluded, e.Key)
}

// Get returns the extracted value for key, or NoValue with ok=false if key
// is excluded or unknown.
func (ix *Index[K, V]) Get(key K) (v any, ok bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	v, ok = ix.forward[key]
	if !ok {
		return NoValue, false
	}
	return v, true
}

// Keys returns a snapshot of the keys mapped to the exact extracted value
// v (used by index-aware filters to narrow candidate sets via equality).
func (ix *Index[K, V]) Keys(v any) []K {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket, ok := ix.inverted[v]
	if !ok {
		return nil
	}
	out := make([]K, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	return out
}

// Each iterates every (value, keys) bucket of the inverted index under the
// index's lock; used by range-aware filters. fn must not mutate the index.
func (ix *Index[K, V]) Each(fn func(value any, keys []K)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for v, bucket := range ix.inverted {
		keys := make([]K, 0, len(bucket))
		for k := range bucket {
			keys = append(keys, k)
		}
		fn(v, keys)
	}
}

func (ix *Index[K, V]) elementSet(v any, ok bool) map[any]struct{} {
	set := map[any]struct{}{}
	if !ok {
		return set
	}
	if ix.splitOnColl && isCollection(v) {
		for _, e := range collectionElements(v) {
			set[e] = struct{}{}
		}
		return set
	}
	set[v] = struct{}{}
	return set
}

func (ix *Index[K, V]) addToInverted(v any, key K) {
	if ix.splitOnColl && isCollection(v) {
		for _, elem := range collectionElements(v) {
			ix.addBucket(elem, key)
		}
		return
	}
	ix.addBucket(v, key)
}

func (ix *Index[K, V]) addBucket(v any, key K) {
	bucket, ok := ix.inverted[v]
	if !ok {
		bucket = map[K]struct{}{}
		ix.inverted[v] = bucket
	}
	bucket[key] = struct{}{}
}

func (ix *Index[K, V]) removeFromInverted(v any, key K) {
	if ix.splitOnColl && isCollection(v) {
		for _, elem := range collectionElements(v) {
			ix.removeBucket(elem, key)
		}
		return
	}
	ix.removeBucket(v, key)
}

func (ix *Index[K, V]) removeBucket(v any, key K) {
	bucket, ok := ix.inverted[v]
	if !ok {
		ix.warnMissingBucket(v)
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(ix.inverted, v)
	}
}

func (ix *Index[K, V]) fullScanRemove(key K, keep map[any]struct{}) {
	for v, bucket := range ix.inverted {
		if _, shouldKeep := keep[v]; shouldKeep {
			continue
		}
		if _, present := bucket[key]; present {
			delete(bucket, key)
			if len(bucket) == 0 {
				delete(ix.inverted, v)
			}
		}
	}
}

// warnMissingBucket implements spec.md §4.2's "Missing inverse index
// recovery": log at most 10 warnings per 5-minute window for a non-partial
// index, then suppress.
func (ix *Index[K, V]) warnMissingBucket(v any) {
	if ix.partial {
		return
	}
	ix.warnMu.Lock()
	defer ix.warnMu.Unlock()
	now := time.Now()
	if now.Sub(ix.warnWindow) > 5*time.Minute {
		ix.warnWindow = now
		ix.warnCount = 0
	}
	if ix.warnCount >= 10 {
		return
	}
	ix.warnCount++
	log.Printf("[WARN] index %q: no inverted bucket for value %v during removal", ix.name, v)
}

func isCollection(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func collectionElements(v any) []any {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func deepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
