// Package subscription implements the (callback, topic) lease state machine:
// insert/remove, their asynchronous "request" counterparts pending
// verification, and the confirm-work dispatch used by the confirm worker.
package subscription

import (
	"fmt"
	"sort"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/types"
)

// Config holds the subscription state machine's tunable constants, mirroring
// original_source/hub/main.py's module-level constants.
type Config struct {
	ExpirationDelta     time.Duration
	LeasePeriod         time.Duration
	MaxConfirmFailures  int
	ConfirmRetryPeriod  time.Duration
	SubscriberChunkSize int
}

// DefaultConfig matches the original hub's constants.
func DefaultConfig() Config {
	return Config{
		ExpirationDelta:     90 * 24 * time.Hour,
		LeasePeriod:         15 * time.Second,
		MaxConfirmFailures:  10,
		ConfirmRetryPeriod:  300 * time.Second,
		SubscriberChunkSize: 10,
	}
}

// Manager implements the Subscription lifecycle over a storage.Store.
type Manager struct {
	store  storage.Store
	clock  clock.Clock
	config Config
}

// NewManager builds a subscription Manager.
func NewManager(store storage.Store, clk clock.Clock, config Config) *Manager {
	return &Manager{store: store, clock: clk, config: config}
}

// Insert marks callback as subscribed to topic, creating the Subscription if
// absent and forcing it into the verified state regardless of any pending
// request. Returns true if the Subscription was newly created.
func (m *Manager) Insert(callback, topic string) (bool, error) {
	key := storage.SubscriptionKey(callback, topic)
	sub, err := m.store.GetSubscription(key)
	isNew := err != nil
	if isNew {
		now := m.clock.Now()
		sub = &types.Subscription{
			Key:            key,
			Callback:       callback,
			CallbackHash:   storage.Sha1Hash(callback),
			Topic:          topic,
			TopicHash:      storage.Sha1Hash(topic),
			CreatedTime:    now,
			ExpirationTime: now.Add(m.config.ExpirationDelta),
		}
	}
	sub.State = types.SubscriptionVerified
	sub.LastModified = m.clock.Now()
	if err := m.store.PutSubscription(sub); err != nil {
		return false, fmt.Errorf("subscription: insert %s: %w", key, err)
	}
	return isNew, nil
}

// RequestInsert records that callback needs asynchronous verification before
// being subscribed to topic. An existing Subscription of any state is left
// untouched. Returns true if a new pending request was created.
func (m *Manager) RequestInsert(callback, topic, verifyToken string) (bool, error) {
	key := storage.SubscriptionKey(callback, topic)
	if _, err := m.store.GetSubscription(key); err == nil {
		return false, nil
	}
	now := m.clock.Now()
	sub := &types.Subscription{
		Key:            key,
		Callback:       callback,
		CallbackHash:   storage.Sha1Hash(callback),
		Topic:          topic,
		TopicHash:      storage.Sha1Hash(topic),
		CreatedTime:    now,
		LastModified:   now,
		ExpirationTime: now.Add(m.config.ExpirationDelta),
		VerifyToken:    verifyToken,
		State:          types.SubscriptionPendingVerify,
	}
	if err := m.store.PutSubscription(sub); err != nil {
		return false, fmt.Errorf("subscription: request_insert %s: %w", key, err)
	}
	return true, nil
}

// Remove immediately deletes the Subscription for (callback, topic), if any.
// Returns true if it previously existed.
func (m *Manager) Remove(callback, topic string) (bool, error) {
	key := storage.SubscriptionKey(callback, topic)
	if _, err := m.store.GetSubscription(key); err != nil {
		return false, nil
	}
	if err := m.store.DeleteSubscription(key); err != nil {
		return false, fmt.Errorf("subscription: remove %s: %w", key, err)
	}
	return true, nil
}

// RequestRemove records that callback needs to be unsubscribed from topic,
// asynchronously. A Subscription already pending delete is left untouched.
// Returns true if this call newly marked it pending delete.
func (m *Manager) RequestRemove(callback, topic, verifyToken string) (bool, error) {
	key := storage.SubscriptionKey(callback, topic)
	sub, err := m.store.GetSubscription(key)
	if err != nil || sub.State == types.SubscriptionPendingDelete {
		return false, nil
	}
	sub.State = types.SubscriptionPendingDelete
	sub.VerifyToken = verifyToken
	sub.LastModified = m.clock.Now()
	if err := m.store.PutSubscription(sub); err != nil {
		return false, fmt.Errorf("subscription: request_remove %s: %w", key, err)
	}
	return true, nil
}

// HasSubscribers reports whether topic has any verified subscriber.
func (m *Manager) HasSubscribers(topic string) (bool, error) {
	subs, err := m.store.ListSubscriptionsByTopic(storage.Sha1Hash(topic), types.SubscriptionVerified)
	if err != nil {
		return false, fmt.Errorf("subscription: has_subscribers %s: %w", topic, err)
	}
	return len(subs) > 0, nil
}

// GetSubscribers returns up to count verified subscribers of topic, ordered
// by callback hash, optionally starting at (inclusive of) a given callback
// hash for chunked iteration.
func (m *Manager) GetSubscribers(topic string, count int, startingAtCallbackHash string) ([]*types.Subscription, error) {
	subs, err := m.store.ListSubscriptionsByTopic(storage.Sha1Hash(topic), types.SubscriptionVerified)
	if err != nil {
		return nil, fmt.Errorf("subscription: get_subscribers %s: %w", topic, err)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CallbackHash < subs[j].CallbackHash })
	if startingAtCallbackHash != "" {
		start := sort.Search(len(subs), func(i int) bool { return subs[i].CallbackHash >= startingAtCallbackHash })
		subs = subs[start:]
	}
	if count > 0 && len(subs) > count {
		subs = subs[:count]
	}
	return subs, nil
}

// ConfirmFailed reports that an asynchronous confirmation attempt for sub
// failed, applying exponential backoff to its ETA, or deleting it outright
// once the configured maximum failure count is exceeded.
func (m *Manager) ConfirmFailed(sub *types.Subscription) error {
	if sub.ConfirmFailures >= m.config.MaxConfirmFailures {
		return m.store.DeleteSubscription(sub.Key)
	}
	backoff := m.config.ConfirmRetryPeriod * time.Duration(1<<uint(sub.ConfirmFailures))
	sub.ETA = m.clock.Now().Add(backoff)
	sub.ConfirmFailures++
	if err := m.store.PutSubscription(sub); err != nil {
		return fmt.Errorf("subscription: confirm_failed %s: %w", sub.Key, err)
	}
	return nil
}

// GetConfirmWork claims a single pending Subscription (PendingVerify or
// PendingDelete) via the lease dispatcher's query-and-own, or returns nil if
// none is currently claimable.
func (m *Manager) GetConfirmWork(dispatcher *lease.Dispatcher) (*types.Subscription, error) {
	now := m.clock.Now()
	limit := lease.SampleLimit(1)

	verifying, err := m.store.ListDueSubscriptions(types.SubscriptionPendingVerify, now, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription: get_confirm_work: %w", err)
	}
	deleting, err := m.store.ListDueSubscriptions(types.SubscriptionPendingDelete, now, limit)
	if err != nil {
		return nil, fmt.Errorf("subscription: get_confirm_work: %w", err)
	}

	candidates := make([]*types.Subscription, 0, len(verifying)+len(deleting))
	candidates = append(candidates, verifying...)
	candidates = append(candidates, deleting...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ETA.Before(candidates[j].ETA) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	byKey := make(map[string]*types.Subscription, len(candidates))
	keys := make([]string, len(candidates))
	for i, sub := range candidates {
		keys[i] = sub.Key
		byKey[sub.Key] = sub
	}

	owned := dispatcher.QueryAndOwn(keys, 1, m.config.LeasePeriod)
	if len(owned) == 0 {
		return nil, nil
	}
	return byKey[owned[0]], nil
}
