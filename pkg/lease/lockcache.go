// Package lease implements the hub's query-and-own work dispatcher: a
// sample-then-lock algorithm that lets several worker goroutines pull from
// the same durable work-item bucket without double-processing an item, using
// only an in-process advisory lock since this hub is a single binary.
package lease

import (
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// LockCache is a bounded, thread-safe set of advisory locks keyed by string,
// each holding its own expiry. It is modeled on Resinat-Resin's
// LatencyTable: otter provides the bounded, high-throughput cache; the
// per-key bookkeeping (here, expiry rather than a derived stat) is layered
// on top manually since otter has no native per-entry TTL used here.
type LockCache struct {
	mu    sync.Mutex
	cache otter.Cache[string, time.Time]
}

// NewLockCache creates a LockCache bounded to maxEntries outstanding locks.
func NewLockCache(maxEntries int) *LockCache {
	cache, err := otter.MustBuilder[string, time.Time](maxEntries).
		Cost(func(_ string, _ time.Time) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("lease: failed to create lock cache: " + err.Error())
	}
	return &LockCache{cache: cache}
}

// TryAcquireMulti attempts to acquire every key in keys, each held until
// now+ttl. It acquires all-or-nothing: if any key is already locked (and not
// expired), no locks are taken and ok is false. This gives the atomic
// multi-add semantics the dispatcher's sampling step needs without a
// distributed cache.
func (c *LockCache) TryAcquireMulti(keys []string, ttl time.Duration, now time.Time) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		if expiry, found := c.cache.Get(k); found && expiry.After(now) {
			return false
		}
	}
	expiry := now.Add(ttl)
	for _, k := range keys {
		c.cache.Set(k, expiry)
	}
	return true
}

// Release drops the advisory locks for keys. Callers must tolerate Release
// being a best-effort operation: a missing key is not an error.
func (c *LockCache) Release(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.cache.Delete(k)
	}
}

// Locked reports whether key currently holds an unexpired lock.
func (c *LockCache) Locked(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, found := c.cache.Get(key)
	return found && expiry.After(now)
}

// Size returns the number of entries currently tracked, expired or not.
func (c *LockCache) Size() int {
	return c.cache.Size()
}

// Close releases resources held by the underlying cache.
func (c *LockCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Close()
}
