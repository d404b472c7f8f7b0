package storage

import (
	"time"

	"github.com/pushhub/hub/pkg/types"
)

// Store defines the interface for hub state storage. It is implemented by
// BoltStore.
type Store interface {
	// Subscriptions
	PutSubscription(sub *types.Subscription) error
	GetSubscription(key string) (*types.Subscription, error)
	DeleteSubscription(key string) error
	// ListSubscriptionsByTopic returns subscriptions for topicHash in the
	// given state. state == "" matches any state.
	ListSubscriptionsByTopic(topicHash string, state types.SubscriptionState) ([]*types.Subscription, error)
	// ListDueSubscriptions returns subscriptions in state with ETA <= before,
	// ordered by ETA ascending, capped at limit.
	ListDueSubscriptions(state types.SubscriptionState, before time.Time, limit int) ([]*types.Subscription, error)

	// FeedToFetch
	PutFeedToFetch(feed *types.FeedToFetch) error
	GetFeedToFetch(key string) (*types.FeedToFetch, error)
	DeleteFeedToFetch(key string) error
	// ListDueFeedsToFetch returns FeedToFetch items with ETA <= before,
	// ordered by ETA ascending, capped at limit.
	ListDueFeedsToFetch(before time.Time, limit int) ([]*types.FeedToFetch, error)

	// KnownFeed
	PutKnownFeed(feed *types.KnownFeed) error
	GetKnownFeed(key string) (*types.KnownFeed, error)
	DeleteKnownFeed(key string) error
	// ListKnownFeeds returns known feeds with key > afterKey in key order,
	// capped at limit. Used by the bootstrap poller to chunk through the
	// whole known-feed set without loading it all into memory at once.
	ListKnownFeeds(afterKey string, limit int) ([]*types.KnownFeed, error)

	// FeedRecord
	PutFeedRecord(rec *types.FeedRecord) error
	GetFeedRecord(key string) (*types.FeedRecord, error)

	// GetFeedEntryRecords looks up previously seen entries for topicHash,
	// scoped by the owning topic's hash key (storage.HashKey(topic), not a
	// bare sha1). Writes go through CommitPull, which keys new records the
	// same way.
	GetFeedEntryRecords(topicHash string, entryHashes []string) (map[string]*types.FeedEntryRecord, error)

	// EventToDeliver
	PutEventToDeliver(event *types.EventToDeliver) error
	GetEventToDeliver(key string) (*types.EventToDeliver, error)
	DeleteEventToDeliver(key string) error
	// ListDueEventsToDeliver returns EventToDeliver items with
	// LastModified <= before, ordered ascending, capped at limit.
	ListDueEventsToDeliver(before time.Time, limit int) ([]*types.EventToDeliver, error)

	// CommitPull persists the outcome of one feed-pull cycle as a single
	// entity-group transaction: the updated FeedRecord, any new
	// FeedEntryRecords, and the EventToDeliver work item it produced (if
	// any new entries were found).
	CommitPull(feed *types.FeedRecord, entries []*types.FeedEntryRecord, event *types.EventToDeliver) error

	// PollingMarker is a singleton record; GetPollingMarker returns a zero
	// value (no error) if one has never been written.
	GetPollingMarker() (*types.PollingMarker, error)
	PutPollingMarker(marker *types.PollingMarker) error

	// Close releases the underlying database handle.
	Close() error
}
