// Package types holds the hub's durable entity model: the records stored in
// pkg/storage and passed between the ingress endpoints and the workers.
package types

import "time"

// SubscriptionState is the lifecycle state of a Subscription.
type SubscriptionState string

const (
	SubscriptionPendingVerify SubscriptionState = "pending_verify"
	SubscriptionVerified      SubscriptionState = "verified"
	SubscriptionPendingDelete SubscriptionState = "pending_delete"
)

// Subscription represents one (callback, topic) lease. It also doubles as a
// pending confirm/remove work item while its state is PendingVerify or
// PendingDelete.
type Subscription struct {
	Key             string            `json:"key"` // hash_<sha1(callback\ntopic)>
	Callback        string            `json:"callback"`
	CallbackHash    string            `json:"callback_hash"`
	Topic           string            `json:"topic"`
	TopicHash       string            `json:"topic_hash"`
	CreatedTime     time.Time         `json:"created_time"`
	LastModified    time.Time         `json:"last_modified"`
	ExpirationTime  time.Time         `json:"expiration_time"`
	ETA             time.Time         `json:"eta"`
	ConfirmFailures int               `json:"confirm_failures"`
	VerifyToken     string            `json:"verify_token"`
	State           SubscriptionState `json:"state"`
}

// FeedToFetch is a work item recording that a topic needs to be pulled.
type FeedToFetch struct {
	Key              string    `json:"key"` // hash_<sha1(topic)>
	Topic            string    `json:"topic"`
	ETA              time.Time `json:"eta"`
	FetchingFailures int       `json:"fetching_failures"`
	TotallyFailed    bool      `json:"totally_failed"`
}

// KnownFeed is a materialized record that a topic has ever had a successful
// subscription, used for bootstrap polling and publish short-circuiting.
type KnownFeed struct {
	Key   string `json:"key"` // hash_<sha1(topic)>
	Topic string `json:"topic"`
}

// FeedRecord holds per-topic polling metadata: the envelope used to splice
// new entries into delivery payloads, and the conditional-request headers
// from the last successful fetch.
type FeedRecord struct {
	Key          string    `json:"key"` // hash_<sha1(topic)>
	Topic        string    `json:"topic"`
	HeaderFooter string    `json:"header_footer"`
	LastUpdated  time.Time `json:"last_updated"`
	ContentType  string    `json:"content_type"`
	LastModified string    `json:"last_modified"`
	ETag         string    `json:"etag"`
}

// FeedEntryRecord records that a single feed entry has been seen, so a
// re-fetch of identical content is a no-op.
type FeedEntryRecord struct {
	Key              string    `json:"key"` // hash_<sha1(entry_id)>, scoped under the topic's FeedRecord
	EntryID          string    `json:"entry_id"`
	EntryIDHash      string    `json:"entry_id_hash"`
	EntryContentHash string    `json:"entry_content_hash"`
	UpdateTime       time.Time `json:"update_time"`
}

// DeliveryMode distinguishes a fresh pass over a topic's subscribers from a
// retry pass over previously failed callbacks.
type DeliveryMode string

const (
	DeliveryNormal DeliveryMode = "normal"
	DeliveryRetry  DeliveryMode = "retry"
)

// EventToDeliver is one diff's worth of payload to push to a topic's
// verified subscribers.
type EventToDeliver struct {
	Key             string       `json:"key"` // hash_<sha1(topic)>
	Topic           string       `json:"topic"`
	TopicHash       string       `json:"topic_hash"`
	Payload         string       `json:"payload"`
	LastCallback    string       `json:"last_callback"`
	FailedCallbacks []string     `json:"failed_callbacks"` // Subscription keys
	DeliveryMode    DeliveryMode `json:"delivery_mode"`
	RetryAttempts   int          `json:"retry_attempts"`
	LastModified    time.Time    `json:"last_modified"`
	TotallyFailed   bool         `json:"totally_failed"`
}

// PollingMarker is the singleton cursor for the bootstrap poller.
type PollingMarker struct {
	NextStart  time.Time `json:"next_start"`
	CurrentKey string    `json:"current_key"` // empty string means "no active cycle"
}
