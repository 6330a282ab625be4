// Package rediskv implements store.Store against Redis: a JSON-serialized
// CacheStore/CacheLoader backend for LocalCache's read-through/write-through
// integration (spec.md §4.1, §6), grounded on go-redis/v9 the same way the
// teacher's own redis_cache.go used go-redis/v8 for its RemoteCache.
//
// Single-key Load/Store route through a pair of bundler.Bundler instances
// (package bundler, spec.md §4.4) so concurrent single-key callers coalesce
// into MGET/pipelined bulk round-trips instead of one round-trip each.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/kvengine/corekv/bundler"
	"github.com/kvengine/corekv/store"
)

// loadResult carries a Load outcome through the load bundler, since
// bundler.BulkFunc's map shape alone can't distinguish "absent" from "the
// zero value" the way store.Loader.Load's separate bool does.
type loadResult[V any] struct {
	val V
	ok  bool
}

// KeyFunc renders a domain key K into a Redis key string; the default
// prefixes with the store's namespace and uses fmt.Sprint on K.
type KeyFunc[K comparable] func(namespace string, key K) string

func defaultKeyFunc[K comparable](namespace string, key K) string {
	return fmt.Sprintf("%s:%v", namespace, key)
}

// Store is a Redis-backed store.Store[K,V]: values are JSON-encoded,
// round-tripped through encoding/json the way the teacher's RedisCache
// serializes its own cached values.
type Store[K comparable, V any] struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	keyFunc   KeyFunc[K]

	loadBundler  *bundler.Bundler[K, loadResult[V]]
	storeBundler *bundler.Bundler[K, V]
}

// Option configures a Store at construction.
type Option[K comparable, V any] func(*Store[K, V])

// TTL sets the Redis-side expiry applied to every Store/StoreAll write (0
// means no expiry, the default).
func TTL[K comparable, V any](d time.Duration) Option[K, V] {
	return func(s *Store[K, V]) { s.ttl = d }
}

// KeyFuncOption overrides the default "namespace:key" Redis key rendering.
func KeyFuncOption[K comparable, V any](f KeyFunc[K]) Option[K, V] {
	return func(s *Store[K, V]) { s.keyFunc = f }
}

// New builds a Store against an already-configured go-redis client,
// namespacing every key under namespace.
func New[K comparable, V any](client *redis.Client, namespace string, opts ...Option[K, V]) *Store[K, V] {
	s := &Store[K, V]{client: client, namespace: namespace, keyFunc: defaultKeyFunc[K]}
	for _, o := range opts {
		o(s)
	}
	s.loadBundler = bundler.New[K, loadResult[V]](s.loadAllBulk)
	s.storeBundler = bundler.New[K, V](s.storeAllBulk)
	return s
}

func (s *Store[K, V]) redisKey(key K) string { return s.keyFunc(s.namespace, key) }

// loadAllBulk is the load bundler's BulkFunc: it discards the staged
// (zero-valued) loadResult payloads, keeping only the key set, and fetches
// every key in one MGET via LoadAll.
func (s *Store[K, V]) loadAllBulk(items map[K]loadResult[V]) (map[K]loadResult[V], error) {
	keys := make([]K, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	loaded, err := s.LoadAll(keys)
	if err != nil {
		return nil, err
	}
	out := make(map[K]loadResult[V], len(items))
	for _, k := range keys {
		v, ok := loaded[k]
		out[k] = loadResult[V]{val: v, ok: ok}
	}
	return out, nil
}

// storeAllBulk is the store bundler's BulkFunc: it writes every staged
// item in one pipeline via StoreAll and echoes them back as the result.
func (s *Store[K, V]) storeAllBulk(items map[K]V) (map[K]V, error) {
	if err := s.StoreAll(items); err != nil {
		return nil, err
	}
	return items, nil
}

// Load fetches and decodes key, returning found=false on a Redis miss.
// Concurrent callers coalesce through the load bundler into a single MGET.
func (s *Store[K, V]) Load(key K) (V, bool, error) {
	var zero V
	res, err := s.loadBundler.Process(key, loadResult[V]{})
	if err != nil {
		return zero, false, err
	}
	return res.val, res.ok, nil
}

// LoadAll fetches every key present among keys via a single MGET.
func (s *Store[K, V]) LoadAll(keys []K) (map[K]V, error) {
	if len(keys) == 0 {
		return map[K]V{}, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.redisKey(k)
	}
	raws, err := s.client.MGet(context.Background(), redisKeys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	out := make(map[K]V, len(keys))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v V
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, errors.Wrapf(err, "decode cached value for %v", keys[i])
		}
		out[keys[i]] = v
	}
	return out, nil
}

// Store encodes and writes val under key. Concurrent callers coalesce
// through the store bundler into a single pipelined write.
func (s *Store[K, V]) Store(key K, val V) error {
	_, err := s.storeBundler.Process(key, val)
	return err
}

// StoreAll writes every item via a pipeline, collecting every individual
// failure into a single aggregated error rather than stopping at the first.
func (s *Store[K, V]) StoreAll(items map[K]V) error {
	pipe := s.client.Pipeline()
	var merr *multierror.Error
	for k, v := range items {
		raw, err := json.Marshal(v)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "encode value for %v", k))
			continue
		}
		pipe.Set(context.Background(), s.redisKey(k), raw, s.ttl)
	}
	if _, err := pipe.Exec(context.Background()); err != nil {
		merr = multierror.Append(merr, errors.Wrap(err, "redis pipeline exec"))
	}
	return merr.ErrorOrNil()
}

// Erase deletes key.
func (s *Store[K, V]) Erase(key K) error {
	if err := s.client.Del(context.Background(), s.redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// EraseAll deletes every key in one round-trip.
func (s *Store[K, V]) EraseAll(keys []K) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.redisKey(k)
	}
	if err := s.client.Del(context.Background(), redisKeys...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

var _ store.Store[string, int] = (*Store[string, int])(nil)
