package localcache

import "sync/atomic"

// LockOwner identifies the logical caller across a sequence of Lock/Unlock
// calls, replacing the Java notion of "the current thread" that spec.md
// §4.3's KeyLock re-entrancy check relies on. A goroutine that needs
// re-entrant key locking obtains one LockOwner via NewLockOwner and reuses
// it for every Lock/Unlock call in that sequence.
type LockOwner int64

var lockOwnerSeq int64

// NewLockOwner mints a process-unique LockOwner.
func NewLockOwner() LockOwner {
	return LockOwner(atomic.AddInt64(&lockOwnerSeq, 1))
}

// Lock acquires the per-key lock for key on behalf of owner, waiting up to
// waitMillis milliseconds (0 = try once, negative = wait indefinitely), per
// spec.md §4.3. Re-entrant: the same owner may call Lock again on a key it
// already holds, up to the hold-count limit.
func (c *LocalCache[K, V]) Lock(key K, owner LockOwner, waitMillis int) bool {
	return c.locks.Lock(key, int64(owner), waitMillis)
}

// Unlock releases one hold of key on behalf of owner.
func (c *LocalCache[K, V]) Unlock(key K, owner LockOwner) bool {
	return c.locks.Unlock(key, int64(owner))
}

// LockAll acquires the cache-wide lock (spec.md §4.3's LOCK_ALL), blocking
// new per-key Lock calls until UnlockAll is called.
func (c *LocalCache[K, V]) LockAll() { c.locks.LockAll() }

// UnlockAll releases the cache-wide lock.
func (c *LocalCache[K, V]) UnlockAll() { c.locks.UnlockAll() }

// KeyLocked reports whether key is currently held by anyone (diagnostic).
func (c *LocalCache[K, V]) KeyLocked(key K) bool { return c.locks.Held(key) }
