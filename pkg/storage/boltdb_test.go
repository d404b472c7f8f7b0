package storage

import (
	"testing"
	"time"

	"github.com/pushhub/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSubscriptionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	sub := &types.Subscription{
		Key:       SubscriptionKey("http://cb.example/", "http://topic.example/"),
		Callback:  "http://cb.example/",
		Topic:     "http://topic.example/",
		TopicHash: Sha1Hash("http://topic.example/"),
		State:     types.SubscriptionVerified,
	}
	require.NoError(t, store.PutSubscription(sub))

	got, err := store.GetSubscription(sub.Key)
	require.NoError(t, err)
	assert.Equal(t, sub.Callback, got.Callback)
	assert.Equal(t, sub.State, got.State)

	_, err = store.GetSubscription("missing")
	assert.Error(t, err)

	require.NoError(t, store.DeleteSubscription(sub.Key))
	_, err = store.GetSubscription(sub.Key)
	assert.Error(t, err)
}

func TestListSubscriptionsByTopic(t *testing.T) {
	store := newTestStore(t)
	topicHash := Sha1Hash("http://topic.example/")

	for i, state := range []types.SubscriptionState{types.SubscriptionVerified, types.SubscriptionVerified, types.SubscriptionPendingVerify} {
		cb := "http://cb.example/" + string(rune('a'+i))
		sub := &types.Subscription{
			Key:       SubscriptionKey(cb, "http://topic.example/"),
			Callback:  cb,
			Topic:     "http://topic.example/",
			TopicHash: topicHash,
			State:     state,
		}
		require.NoError(t, store.PutSubscription(sub))
	}

	verified, err := store.ListSubscriptionsByTopic(topicHash, types.SubscriptionVerified)
	require.NoError(t, err)
	assert.Len(t, verified, 2)

	all, err := store.ListSubscriptionsByTopic(topicHash, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListDueSubscriptionsOrdersByETA(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	late := &types.Subscription{Key: "late", State: types.SubscriptionPendingVerify, ETA: now.Add(time.Minute)}
	early := &types.Subscription{Key: "early", State: types.SubscriptionPendingVerify, ETA: now.Add(-time.Minute)}
	future := &types.Subscription{Key: "future", State: types.SubscriptionPendingVerify, ETA: now.Add(time.Hour)}
	require.NoError(t, store.PutSubscription(late))
	require.NoError(t, store.PutSubscription(early))
	require.NoError(t, store.PutSubscription(future))

	due, err := store.ListDueSubscriptions(types.SubscriptionPendingVerify, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].Key)
	assert.Equal(t, "late", due[1].Key)
}

func TestListDueFeedsToFetchRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	for i := 0; i < 5; i++ {
		f := &types.FeedToFetch{
			Key:   Sha1Hash(string(rune('a' + i))),
			Topic: string(rune('a' + i)),
			ETA:   now.Add(-time.Duration(i) * time.Second),
		}
		require.NoError(t, store.PutFeedToFetch(f))
	}

	due, err := store.ListDueFeedsToFetch(now, 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)
}

func TestKnownFeedChunking(t *testing.T) {
	store := newTestStore(t)

	for _, topic := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.PutKnownFeed(&types.KnownFeed{Key: HashKey(topic), Topic: topic}))
	}

	first, err := store.ListKnownFeeds("", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := store.ListKnownFeeds(first[len(first)-1].Key, 2)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.NotEqual(t, first[0].Key, second[0].Key)
}

func TestFeedEntryRecordsScopedByTopic(t *testing.T) {
	store := newTestStore(t)
	topicA := HashKey("topic-a")
	topicB := HashKey("topic-b")
	entryHash := Sha1Hash("entry-1")

	require.NoError(t, store.CommitPull(
		&types.FeedRecord{Key: topicA, Topic: "topic-a"},
		[]*types.FeedEntryRecord{{EntryID: "entry-1", EntryIDHash: entryHash, EntryContentHash: "hash-a"}},
		nil,
	))
	require.NoError(t, store.CommitPull(
		&types.FeedRecord{Key: topicB, Topic: "topic-b"},
		[]*types.FeedEntryRecord{{EntryID: "entry-1", EntryIDHash: entryHash, EntryContentHash: "hash-b"}},
		nil,
	))

	got, err := store.GetFeedEntryRecords(topicA, []string{entryHash})
	require.NoError(t, err)
	require.Contains(t, got, entryHash)
	assert.Equal(t, "hash-a", got[entryHash].EntryContentHash)
}

func TestCommitPullWritesEntityGroupAtomically(t *testing.T) {
	store := newTestStore(t)
	topicHash := Sha1Hash("http://topic.example/")

	feed := &types.FeedRecord{Key: topicHash, Topic: "http://topic.example/"}
	entries := []*types.FeedEntryRecord{
		{EntryID: "1", EntryIDHash: Sha1Hash("1"), EntryContentHash: "c1"},
	}
	event := &types.EventToDeliver{Key: topicHash, Topic: "http://topic.example/", Payload: "<feed/>"}

	require.NoError(t, store.CommitPull(feed, entries, event))

	gotFeed, err := store.GetFeedRecord(topicHash)
	require.NoError(t, err)
	assert.Equal(t, feed.Topic, gotFeed.Topic)

	gotEntries, err := store.GetFeedEntryRecords(topicHash, []string{Sha1Hash("1")})
	require.NoError(t, err)
	assert.Contains(t, gotEntries, Sha1Hash("1"))

	gotEvent, err := store.GetEventToDeliver(topicHash)
	require.NoError(t, err)
	assert.Equal(t, event.Payload, gotEvent.Payload)
}

func TestPollingMarkerDefaultsToZeroValue(t *testing.T) {
	store := newTestStore(t)

	marker, err := store.GetPollingMarker()
	require.NoError(t, err)
	assert.Empty(t, marker.CurrentKey)

	marker.CurrentKey = "hash_abc"
	require.NoError(t, store.PutPollingMarker(marker))

	got, err := store.GetPollingMarker()
	require.NoError(t, err)
	assert.Equal(t, "hash_abc", got.CurrentKey)
}
