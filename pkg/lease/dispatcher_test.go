package lease

import (
	"testing"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockCacheTryAcquireMultiAllOrNothing(t *testing.T) {
	cache := NewLockCache(100)
	t.Cleanup(cache.Close)
	now := time.Now()

	ok := cache.TryAcquireMulti([]string{"a", "b"}, time.Minute, now)
	require.True(t, ok)
	assert.True(t, cache.Locked("a", now))
	assert.True(t, cache.Locked("b", now))

	ok = cache.TryAcquireMulti([]string{"b", "c"}, time.Minute, now)
	assert.False(t, ok, "b is already locked, so the whole batch must fail")
	assert.False(t, cache.Locked("c", now), "c must not be locked by the failed batch")
}

func TestLockCacheExpires(t *testing.T) {
	cache := NewLockCache(100)
	t.Cleanup(cache.Close)
	now := time.Now()

	require.True(t, cache.TryAcquireMulti([]string{"a"}, time.Second, now))
	later := now.Add(2 * time.Second)
	assert.False(t, cache.Locked("a", later))
	assert.True(t, cache.TryAcquireMulti([]string{"a"}, time.Second, later))
}

func TestLockCacheRelease(t *testing.T) {
	cache := NewLockCache(100)
	t.Cleanup(cache.Close)
	now := time.Now()

	require.True(t, cache.TryAcquireMulti([]string{"a"}, time.Minute, now))
	cache.Release([]string{"a"})
	assert.False(t, cache.Locked("a", now))
}

func TestDispatcherQueryAndOwnBoundsToWant(t *testing.T) {
	fixed := clock.NewFixed(time.Now())
	dispatcher := NewDispatcher(NewLockCache(100), fixed)

	candidates := []string{"k1", "k2", "k3", "k4", "k5"}
	owned := dispatcher.QueryAndOwn(candidates, 2, time.Minute)
	assert.Len(t, owned, 2)

	for _, k := range owned {
		assert.True(t, dispatcher.locks.Locked(k, fixed.Now()))
	}
}

func TestDispatcherQueryAndOwnSkipsAlreadyLocked(t *testing.T) {
	fixed := clock.NewFixed(time.Now())
	locks := NewLockCache(100)
	dispatcher := NewDispatcher(locks, fixed)

	require.True(t, locks.TryAcquireMulti([]string{"k1"}, time.Minute, fixed.Now()))

	owned := dispatcher.QueryAndOwn([]string{"k1", "k2"}, 2, time.Minute)
	assert.Equal(t, []string{"k2"}, owned)
}

func TestSampleLimit(t *testing.T) {
	assert.Equal(t, DefaultSampleRatio*10, SampleLimit(10))
}
