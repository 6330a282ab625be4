// Package extract defines the value extractor / updater contract from
// spec.md §6 and the NO_VALUE sentinel used by SimpleCacheIndex
// (spec.md §4.2) to distinguish extraction failure from a present nil.
package extract

// Extractor pulls an attribute out of a cached value. A false second
// return means extraction failed; the caller (the index) treats the key as
// excluded rather than mapping it to a zero value.
type Extractor[V any] interface {
	Extract(val V) (attr any, ok bool)
}

// Func adapts a plain function to an Extractor.
type Func[V any] func(val V) (any, bool)

// Extract calls f.
func (f Func[V]) Extract(val V) (any, bool) { return f(val) }

// KeyExtractor is the special case of an Extractor that only looks at the
// key, never the value. SimpleCacheIndex recognizes it to enable the
// immutable-values optimization of spec.md §4.2 ("update is a no-op").
type KeyExtractor[K comparable, V any] interface {
	Extractor[V]
	ExtractFromKey(key K) (any, bool)
}

// Updater pushes a value back into a target, the inverse of Extractor, used
// by ValueUpdater-backed processors (spec.md §6).
type Updater[V any] interface {
	Update(target *V, attr any) error
}

// UpdaterFunc adapts a plain function to an Updater.
type UpdaterFunc[V any] func(target *V, attr any) error

// Update calls f.
func (f UpdaterFunc[V]) Update(target *V, attr any) error { return f(target, attr) }
