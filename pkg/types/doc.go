/*
Package types defines the hub's durable entity model.

This package contains the records persisted by pkg/storage and passed
between the ingress endpoints in pkg/httpapi and the workers in
pkg/worker: subscription leases, feed work items, and delivery events.

# Entities

  - Subscription — one (callback, topic) lease and its confirm/remove state.
  - FeedToFetch — a topic queued for a pull.
  - KnownFeed — a topic that has ever had a successful subscription.
  - FeedRecord / FeedEntryRecord — per-topic polling metadata and seen entries.
  - EventToDeliver — one diff's payload queued for push delivery.
  - PollingMarker — the bootstrap poller's cursor.
*/
package types
