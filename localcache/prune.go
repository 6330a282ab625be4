package localcache

import (
	"log"
	"time"

	"github.com/kvengine/corekv/internal/entry"
	"github.com/kvengine/corekv/internal/units"
)

// maybeLazyFlush sweeps expired entries once flushDelay has elapsed since
// the last sweep, per spec.md §4.1 "Expiry" (lazy, access-triggered flush
// rather than a background ticker). Must be called with c.mu held
// exclusively.
func (c *LocalCache[K, V]) maybeLazyFlush(mutating bool) {
	if !mutating || c.flushDelay <= 0 {
		return
	}
	now := time.Now()
	if now.Before(c.nextFlushAt) {
		return
	}
	c.nextFlushAt = now.Add(c.flushDelay)
	c.evictExpiredLocked(now)
}

// evictExpiredLocked removes every expired entry. Must be called with c.mu
// held exclusively.
func (c *LocalCache[K, V]) evictExpiredLocked(now time.Time) {
	var dead []K
	for k, e := range c.data {
		if e.Expired(now) {
			dead = append(dead, k)
		}
	}
	for _, k := range dead {
		c.removeLocked(k, entry.ExpiryDriven())
	}
}

// prune runs one prune cycle: expire first, then, if still over highUnits,
// ask the configured eviction policy (or the external policy) to free
// units down to lowUnits, and finally decay survivors' touch counts. Must
// be called with c.mu held exclusively (insertLocked's caller already
// holds it).
func (c *LocalCache[K, V]) prune() {
	start := time.Now()
	c.evictExpiredLocked(start)

	if c.currentUnits > c.highUnits {
		// evictions drop entries from memory only; the backing store keeps them
		evictCtx := entry.Context{Synthetic: true, SuppressWrites: true}
		switch {
		case c.external != nil:
			c.external.RequestEviction(c.highUnits, func(keys ...K) {
				for _, k := range keys {
					c.removeLocked(k, evictCtx)
					c.stats.RecordEvicted()
				}
			})
		case c.policy != nil:
			infos := make([]units.EntryInfo[K], 0, len(c.data))
			for k, e := range c.data {
				infos = append(infos, units.EntryInfo[K]{
					Key: k, LastTouch: e.LastTouchAt, TouchCount: e.TouchCount, Units: e.Units,
				})
			}
			victims := c.policy.SelectForEviction(infos, units.PruneParams{
				Now: start, LastPrune: c.lastPrune,
				CurrentUnits: c.currentUnits, LowUnits: c.lowUnits,
				AvgTouch: c.avgTouch,
			})
			for _, k := range victims {
				c.removeLocked(k, evictCtx)
				c.stats.RecordEvicted()
			}
		default:
			log.Printf("[ERROR] cache %s: over high-units with no eviction policy configured", c.name)
		}
	}

	c.decayTouchCountsLocked()
	c.lastPrune = start
	c.prunesCount++
	c.stats.RecordPrune(time.Since(start))

	if c.prometheus != nil {
		c.prometheus.Refresh(c.stats.Snapshot(), len(c.data), c.currentUnits)
	}
}

// decayTouchCountsLocked shifts every survivor's touch count right by four
// bits, flooring at 1 (spec.md §4.1 "Touch-count decay"), and recomputes the running average
// touch count the Hybrid policy's LFU score depends on.
func (c *LocalCache[K, V]) decayTouchCountsLocked() {
	if len(c.data) == 0 {
		c.avgTouch = 0
		return
	}
	var total int64
	for _, e := range c.data {
		e.DecayTouch()
		total += e.TouchCount
	}
	c.avgTouch = float64(total) / float64(len(c.data))
}
