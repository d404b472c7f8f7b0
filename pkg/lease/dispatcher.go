package lease

import (
	"math/rand/v2"
	"time"

	"github.com/pushhub/hub/pkg/clock"
)

// Default sampling parameters from original_source/hub/main.py's
// query_and_own (sample_ratio=20, lock_ratio=4): oversample by SampleRatio,
// then try to lock up to LockRatio times the wanted count before giving up
// on an item.
const (
	DefaultSampleRatio = 20
	DefaultLockRatio   = 4
)

// Dispatcher implements query-and-own over an in-process LockCache: given a
// batch of candidate work items (already oversampled by the caller's store
// query), it returns the subset it managed to acquire an advisory lock for,
// up to want items.
type Dispatcher struct {
	locks *LockCache
	clock clock.Clock
}

// NewDispatcher builds a Dispatcher over locks, using clk to stamp lock
// expiries.
func NewDispatcher(locks *LockCache, clk clock.Clock) *Dispatcher {
	return &Dispatcher{locks: locks, clock: clk}
}

// QueryAndOwn attempts to lock candidates (already oversampled by the
// caller), visiting them in a random order, until want items are owned or the candidate list and lock
// attempt budget are exhausted, whichever comes first. keyFn extracts each
// candidate's lock key. Every returned item holds its lock until now+ttl;
// callers must Release each key once the work item is durably claimed or
// abandoned.
func (d *Dispatcher) QueryAndOwn(candidates []string, want int, ttl time.Duration) []string {
	if want <= 0 || len(candidates) == 0 {
		return nil
	}

	order := rand.Perm(len(candidates))
	now := d.clock.Now()

	maxAttempts := want * DefaultLockRatio
	owned := make([]string, 0, want)
	attempts := 0
	for _, idx := range order {
		if len(owned) >= want || attempts >= maxAttempts {
			break
		}
		key := candidates[idx]
		attempts++
		if d.locks.TryAcquireMulti([]string{key}, ttl, now) {
			owned = append(owned, key)
		}
	}
	return owned
}

// Release drops the advisory locks for keys, once the caller has durably
// processed or abandoned the corresponding work items.
func (d *Dispatcher) Release(keys []string) {
	d.locks.Release(keys)
}

// SampleLimit returns the oversampled query limit a caller should pass to
// its store's "list due items" query so QueryAndOwn has enough candidates to
// choose from, per original_source/hub/main.py's SampleRatio.
func SampleLimit(want int) int {
	return want * DefaultSampleRatio
}
