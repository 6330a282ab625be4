// Package stats implements the Statistics component (spec.md §2 C1):
// counters for gets/puts/hits/misses/prunes and running averages, plus an
// optional Prometheus export surface.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CacheStat mirrors the teacher's CacheStat: a compact, loading-cache-style
// snapshot with the exact rendering its tests assert on
// ("{hits:60, misses:10, ratio:0.86, keys:100, size:12345, errors:5}").
type CacheStat struct {
	Hits, Misses int64
	Keys         int
	Size         int64
	Errors       int64
}

// String renders the snapshot in the teacher's format.
func (s CacheStat) String() string {
	total := s.Hits + s.Misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(s.Hits) / float64(total)
	}
	return fmt.Sprintf("{hits:%d, misses:%d, ratio:%.2f, keys:%d, size:%d, errors:%d}",
		s.Hits, s.Misses, ratio, s.Keys, s.Size, s.Errors)
}

// Stats is the richer running counter set LocalCache maintains internally:
// gets/puts/hits/misses/prunes plus running averages of get and prune
// latency, per spec.md §2 C1.
type Stats struct {
	gets, puts     int64
	hits, misses   int64
	inserts, updates, removes int64
	prunes, expired, evicted  int64

	getNanosTotal   int64
	getCount        int64
	pruneNanosTotal int64
	pruneCount      int64
}

// Snapshot is an immutable point-in-time copy of Stats.
type Snapshot struct {
	Gets, Puts               int64
	Hits, Misses             int64
	Inserts, Updates, Removes int64
	Prunes, Expired, Evicted  int64
	AvgGet   time.Duration
	AvgPrune time.Duration
}

// RecordGet records one get, its hit/miss outcome, and how long it took.
func (s *Stats) RecordGet(hit bool, dur time.Duration) {
	atomic.AddInt64(&s.gets, 1)
	if hit {
		atomic.AddInt64(&s.hits, 1)
	} else {
		atomic.AddInt64(&s.misses, 1)
	}
	atomic.AddInt64(&s.getNanosTotal, dur.Nanoseconds())
	atomic.AddInt64(&s.getCount, 1)
}

// RecordInsert records a put that created a new entry.
func (s *Stats) RecordInsert() {
	atomic.AddInt64(&s.puts, 1)
	atomic.AddInt64(&s.inserts, 1)
}

// RecordUpdate records a put that overwrote an existing entry.
func (s *Stats) RecordUpdate() {
	atomic.AddInt64(&s.puts, 1)
	atomic.AddInt64(&s.updates, 1)
}

// RecordRemove records an explicit removal.
func (s *Stats) RecordRemove() { atomic.AddInt64(&s.removes, 1) }

// RecordExpired records an expiry-driven eviction.
func (s *Stats) RecordExpired() { atomic.AddInt64(&s.expired, 1) }

// RecordEvicted records a policy-driven eviction (not expiry).
func (s *Stats) RecordEvicted() { atomic.AddInt64(&s.evicted, 1) }

// RecordPrune records one prune cycle's duration.
func (s *Stats) RecordPrune(dur time.Duration) {
	atomic.AddInt64(&s.prunes, 1)
	atomic.AddInt64(&s.pruneNanosTotal, dur.Nanoseconds())
	atomic.AddInt64(&s.pruneCount, 1)
}

// Snapshot returns a consistent-enough (each field individually atomic)
// point-in-time copy.
func (s *Stats) Snapshot() Snapshot {
	avgGet := time.Duration(0)
	if c := atomic.LoadInt64(&s.getCount); c > 0 {
		avgGet = time.Duration(atomic.LoadInt64(&s.getNanosTotal) / c)
	}
	avgPrune := time.Duration(0)
	if c := atomic.LoadInt64(&s.pruneCount); c > 0 {
		avgPrune = time.Duration(atomic.LoadInt64(&s.pruneNanosTotal) / c)
	}
	return Snapshot{
		Gets:     atomic.LoadInt64(&s.gets),
		Puts:     atomic.LoadInt64(&s.puts),
		Hits:     atomic.LoadInt64(&s.hits),
		Misses:   atomic.LoadInt64(&s.misses),
		Inserts:  atomic.LoadInt64(&s.inserts),
		Updates:  atomic.LoadInt64(&s.updates),
		Removes:  atomic.LoadInt64(&s.removes),
		Prunes:   atomic.LoadInt64(&s.prunes),
		Expired:  atomic.LoadInt64(&s.expired),
		Evicted:  atomic.LoadInt64(&s.evicted),
		AvgGet:   avgGet,
		AvgPrune: avgPrune,
	}
}

// CacheStat narrows a Snapshot down to the teacher-shaped CacheStat, given
// the current key count and accounted size/errors from the caller (the
// owning cache knows both; Stats itself does not track units or errors).
func (snap Snapshot) CacheStat(keys int, size, errors int64) CacheStat {
	return CacheStat{Hits: snap.Hits, Misses: snap.Misses, Keys: keys, Size: size, Errors: errors}
}
