package subscription

import (
	"testing"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, storage.Store, *clock.Fixed) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	fixed := clock.NewFixed(time.Now())
	return NewManager(store, fixed, DefaultConfig()), store, fixed
}

func TestInsertCreatesVerifiedSubscription(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	isNew, err := mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)
	assert.True(t, isNew)

	sub, err := store.GetSubscription(storage.SubscriptionKey("http://cb/", "http://topic/"))
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionVerified, sub.State)

	isNew, err = mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)
	assert.False(t, isNew, "second insert of the same pair is not new")
}

func TestInsertOverridesPendingVerify(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	_, err := mgr.RequestInsert("http://cb/", "http://topic/", "token")
	require.NoError(t, err)

	_, err = mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)

	sub, err := store.GetSubscription(storage.SubscriptionKey("http://cb/", "http://topic/"))
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionVerified, sub.State)
}

func TestRequestInsertDoesNotOverwriteExisting(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)

	isNew, err := mgr.RequestInsert("http://cb/", "http://topic/", "token")
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestRemove(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	existed, err := mgr.Remove("http://cb/", "http://topic/")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)

	existed, err = mgr.Remove("http://cb/", "http://topic/")
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestRequestRemoveIsIdempotent(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	_, err := mgr.Insert("http://cb/", "http://topic/")
	require.NoError(t, err)

	isNew, err := mgr.RequestRemove("http://cb/", "http://topic/", "token")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = mgr.RequestRemove("http://cb/", "http://topic/", "token")
	require.NoError(t, err)
	assert.False(t, isNew, "already pending delete")
}

func TestHasSubscribersAndGetSubscribers(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	has, err := mgr.HasSubscribers("http://topic/")
	require.NoError(t, err)
	assert.False(t, has)

	for _, cb := range []string{"http://cb1/", "http://cb2/", "http://cb3/"} {
		_, err := mgr.Insert(cb, "http://topic/")
		require.NoError(t, err)
	}

	has, err = mgr.HasSubscribers("http://topic/")
	require.NoError(t, err)
	assert.True(t, has)

	subs, err := mgr.GetSubscribers("http://topic/", 2, "")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.True(t, subs[0].CallbackHash <= subs[1].CallbackHash)
}

func TestConfirmFailedBacksOffThenDeletes(t *testing.T) {
	mgr, store, fixed := newTestManager(t)
	mgr.config.MaxConfirmFailures = 1
	mgr.config.ConfirmRetryPeriod = time.Second

	_, err := mgr.RequestInsert("http://cb/", "http://topic/", "token")
	require.NoError(t, err)
	sub, err := store.GetSubscription(storage.SubscriptionKey("http://cb/", "http://topic/"))
	require.NoError(t, err)

	before := fixed.Now()
	require.NoError(t, mgr.ConfirmFailed(sub))
	assert.Equal(t, 1, sub.ConfirmFailures)
	assert.True(t, sub.ETA.After(before))

	require.NoError(t, mgr.ConfirmFailed(sub))
	_, err = store.GetSubscription(sub.Key)
	assert.Error(t, err, "exceeding max failures deletes the subscription")
}

func TestGetConfirmWorkClaimsOneDueSubscription(t *testing.T) {
	mgr, _, fixed := newTestManager(t)
	dispatcher := lease.NewDispatcher(lease.NewLockCache(100), fixed)

	_, err := mgr.RequestInsert("http://cb/", "http://topic/", "token")
	require.NoError(t, err)

	claimed, err := mgr.GetConfirmWork(dispatcher)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "http://cb/", claimed.Callback)

	again, err := mgr.GetConfirmWork(dispatcher)
	require.NoError(t, err)
	assert.Nil(t, again, "the only candidate is already locked")
}
