/*
Package storage provides bbolt-backed persistence for the hub's entity model.

Store implements one bucket per entity kind (subscriptions, feeds to fetch,
known feeds, feed records, feed entry records, events to deliver, the
polling marker), all values JSON-marshaled and keyed by the hash scheme
spec'd for each entity. bbolt has no secondary-index support, so the
queries the work dispatcher needs ("due" items ordered by ETA, subscriptions
by topic) are implemented as full-bucket scans filtered and sorted in Go —
acceptable at this hub's expected bucket sizes, and the same tradeoff this
codebase makes elsewhere for its other lookup-by-attribute queries.

CommitPull groups the feed-pull worker's writes (FeedRecord, new
FeedEntryRecords, the resulting EventToDeliver) into a single bbolt
transaction, since a bbolt Update transaction already spans every bucket it
touches.
*/
package storage
