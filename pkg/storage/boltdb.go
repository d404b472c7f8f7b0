package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/pushhub/hub/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSubscriptions  = []byte("subscriptions")
	bucketFeedsToFetch   = []byte("feeds_to_fetch")
	bucketKnownFeeds     = []byte("known_feeds")
	bucketFeedRecords    = []byte("feed_records")
	bucketFeedEntries    = []byte("feed_entries")
	bucketEventsDeliver  = []byte("events_to_deliver")
	bucketPollingMarker  = []byte("polling_marker")
	pollingMarkerKey     = []byte("marker")
)

// BoltStore implements Store using a single bbolt file, one bucket per
// entity kind.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the hub's bbolt database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hub.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSubscriptions,
			bucketFeedsToFetch,
			bucketKnownFeeds,
			bucketFeedRecords,
			bucketFeedEntries,
			bucketEventsDeliver,
			bucketPollingMarker,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Subscriptions ---

func (s *BoltStore) PutSubscription(sub *types.Subscription) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSubscriptions), sub.Key, sub)
	})
}

func (s *BoltStore) GetSubscription(key string) (*types.Subscription, error) {
	var sub types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketSubscriptions), key, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *BoltStore) DeleteSubscription(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Delete([]byte(key))
	})
}

func (s *BoltStore) ListSubscriptionsByTopic(topicHash string, state types.SubscriptionState) ([]*types.Subscription, error) {
	var out []*types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub types.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if sub.TopicHash != topicHash {
				return nil
			}
			if state != "" && sub.State != state {
				return nil
			}
			out = append(out, &sub)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListDueSubscriptions(state types.SubscriptionState, before time.Time, limit int) ([]*types.Subscription, error) {
	var out []*types.Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub types.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if sub.State != state || sub.ETA.After(before) {
				return nil
			}
			out = append(out, &sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ETA.Before(out[j].ETA) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- FeedToFetch ---

func (s *BoltStore) PutFeedToFetch(feed *types.FeedToFetch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFeedsToFetch), feed.Key, feed)
	})
}

func (s *BoltStore) GetFeedToFetch(key string) (*types.FeedToFetch, error) {
	var feed types.FeedToFetch
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketFeedsToFetch), key, &feed)
	})
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func (s *BoltStore) DeleteFeedToFetch(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedsToFetch).Delete([]byte(key))
	})
}

func (s *BoltStore) ListDueFeedsToFetch(before time.Time, limit int) ([]*types.FeedToFetch, error) {
	var out []*types.FeedToFetch
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFeedsToFetch).ForEach(func(k, v []byte) error {
			var feed types.FeedToFetch
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			if feed.ETA.After(before) {
				return nil
			}
			out = append(out, &feed)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ETA.Before(out[j].ETA) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- KnownFeed ---

func (s *BoltStore) PutKnownFeed(feed *types.KnownFeed) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketKnownFeeds), feed.Key, feed)
	})
}

func (s *BoltStore) GetKnownFeed(key string) (*types.KnownFeed, error) {
	var feed types.KnownFeed
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketKnownFeeds), key, &feed)
	})
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func (s *BoltStore) DeleteKnownFeed(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKnownFeeds).Delete([]byte(key))
	})
}

func (s *BoltStore) ListKnownFeeds(afterKey string, limit int) ([]*types.KnownFeed, error) {
	var out []*types.KnownFeed
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKnownFeeds).Cursor()
		var k, v []byte
		if afterKey == "" {
			k, v = c.First()
		} else {
			k, v = c.Seek([]byte(afterKey))
			if k != nil && string(k) == afterKey {
				k, v = c.Next()
			}
		}
		for ; k != nil && (limit <= 0 || len(out) < limit); k, v = c.Next() {
			var feed types.KnownFeed
			if err := json.Unmarshal(v, &feed); err != nil {
				return err
			}
			out = append(out, &feed)
		}
		return nil
	})
	return out, err
}

// --- FeedRecord ---

func (s *BoltStore) PutFeedRecord(rec *types.FeedRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFeedRecords), rec.Key, rec)
	})
}

func (s *BoltStore) GetFeedRecord(key string) (*types.FeedRecord, error) {
	var rec types.FeedRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketFeedRecords), key, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- FeedEntryRecord ---

func feedEntryKey(topicHash, entryHash string) string {
	return topicHash + "/" + entryHash
}

func (s *BoltStore) GetFeedEntryRecords(topicHash string, entryHashes []string) (map[string]*types.FeedEntryRecord, error) {
	out := make(map[string]*types.FeedEntryRecord, len(entryHashes))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeedEntries)
		for _, hash := range entryHashes {
			data := b.Get([]byte(feedEntryKey(topicHash, hash)))
			if data == nil {
				continue
			}
			var rec types.FeedEntryRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			out[hash] = &rec
		}
		return nil
	})
	return out, err
}

// --- EventToDeliver ---

func (s *BoltStore) PutEventToDeliver(event *types.EventToDeliver) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketEventsDeliver), event.Key, event)
	})
}

func (s *BoltStore) GetEventToDeliver(key string) (*types.EventToDeliver, error) {
	var event types.EventToDeliver
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketEventsDeliver), key, &event)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *BoltStore) DeleteEventToDeliver(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventsDeliver).Delete([]byte(key))
	})
}

func (s *BoltStore) ListDueEventsToDeliver(before time.Time, limit int) ([]*types.EventToDeliver, error) {
	var out []*types.EventToDeliver
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventsDeliver).ForEach(func(k, v []byte) error {
			var event types.EventToDeliver
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if event.LastModified.After(before) {
				return nil
			}
			out = append(out, &event)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CommitPull writes the updated FeedRecord, any new FeedEntryRecords, and an
// optional new EventToDeliver as one transaction, matching the entity-group
// scoping FeedRecord.get_or_create and create_event_for_topic share in
// original_source/hub/main.py.
func (s *BoltStore) CommitPull(feed *types.FeedRecord, entries []*types.FeedEntryRecord, event *types.EventToDeliver) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketFeedRecords), feed.Key, feed); err != nil {
			return err
		}
		entryBucket := tx.Bucket(bucketFeedEntries)
		for _, rec := range entries {
			if err := putJSON(entryBucket, feedEntryKey(feed.Key, rec.EntryIDHash), rec); err != nil {
				return err
			}
		}
		if event != nil {
			if err := putJSON(tx.Bucket(bucketEventsDeliver), event.Key, event); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- PollingMarker ---

func (s *BoltStore) GetPollingMarker() (*types.PollingMarker, error) {
	var marker types.PollingMarker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPollingMarker).Get(pollingMarkerKey)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &marker)
	})
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

func (s *BoltStore) PutPollingMarker(marker *types.PollingMarker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPollingMarker), string(pollingMarkerKey), marker)
	})
}

// --- helpers ---

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v interface{}) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("not found: %s", key)
	}
	return json.Unmarshal(data, v)
}
