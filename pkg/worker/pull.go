package worker

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/feeddiff"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/types"
	"github.com/rs/zerolog"
)

// PullWorker fetches feeds that have been marked as having new data, diffs
// them against what was last seen, and queues an EventToDeliver for any new
// or updated entries.
type PullWorker struct {
	store      storage.Store
	subs       *subscription.Manager
	dispatcher *lease.Dispatcher
	clock      clock.Clock
	cfg        Config
	client     *http.Client
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// NewPullWorker builds a PullWorker.
func NewPullWorker(store storage.Store, subs *subscription.Manager, dispatcher *lease.Dispatcher, clk clock.Clock, cfg Config) *PullWorker {
	return &PullWorker{
		store:      store,
		subs:       subs,
		dispatcher: dispatcher,
		clock:      clk,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.FetchTimeout},
		logger:     log.WithComponent("pull_worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the pull worker's ticker loop.
func (w *PullWorker) Start() {
	go w.run()
}

// Stop stops the pull worker.
func (w *PullWorker) Stop() {
	close(w.stopCh)
}

func (w *PullWorker) run() {
	ticker := time.NewTicker(w.cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runCycle()
		case <-w.stopCh:
			return
		}
	}
}

// getWork claims a single due FeedToFetch via the lease dispatcher,
// mirroring FeedToFetch.get_work in original_source/hub/main.py.
func (w *PullWorker) getWork() (*types.FeedToFetch, error) {
	limit := lease.SampleLimit(1)
	due, err := w.store.ListDueFeedsToFetch(w.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	var candidates []*types.FeedToFetch
	for _, f := range due {
		if !f.TotallyFailed {
			candidates = append(candidates, f)
		}
	}
	byKey := make(map[string]*types.FeedToFetch, len(candidates))
	keys := make([]string, len(candidates))
	for i, f := range candidates {
		keys[i] = f.Key
		byKey[f.Key] = f
	}
	owned := w.dispatcher.QueryAndOwn(keys, 1, w.cfg.LeasePeriod)
	if len(owned) == 0 {
		return nil, nil
	}
	return byKey[owned[0]], nil
}

// RunOnce runs a single pull cycle synchronously, for operator-triggered
// work endpoints.
func (w *PullWorker) RunOnce() {
	w.runCycle()
}

func (w *PullWorker) runCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PullDuration)
	metrics.PullCyclesTotal.Inc()

	work, err := w.getWork()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to fetch pull work")
		return
	}
	if work == nil {
		w.logger.Debug().Msg("no feeds to fetch")
		return
	}
	defer w.dispatcher.Release([]string{work.Key})

	logger := log.WithTopic(work.Topic)

	hasSubs, err := w.subs.HasSubscribers(work.Topic)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check subscribers")
		return
	}
	if !hasSubs {
		logger.Info().Msg("ignoring feed with no subscribers")
		if err := w.store.DeleteFeedToFetch(work.Key); err != nil {
			logger.Error().Err(err).Msg("failed to delete feed-to-fetch record")
		}
		if err := w.store.DeleteKnownFeed(storage.HashKey(work.Topic)); err != nil {
			logger.Error().Err(err).Msg("failed to delete known-feed record")
		}
		return
	}

	logger.Info().Msg("fetching topic")

	feedRecord, err := w.store.GetFeedRecord(storage.HashKey(work.Topic))
	if err != nil {
		feedRecord = &types.FeedRecord{Key: storage.HashKey(work.Topic), Topic: work.Topic}
	}

	req, err := http.NewRequest(http.MethodGet, work.Topic, nil)
	if err != nil {
		w.fetchFailed(logger, work)
		return
	}
	if feedRecord.LastModified != "" {
		req.Header.Set("If-Modified-Since", feedRecord.LastModified)
	}
	if feedRecord.ETag != "" {
		req.Header.Set("If-None-Match", feedRecord.ETag)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch feed")
		w.fetchFailed(logger, work)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		logger.Info().Msg("feed publisher returned 304 (cache hit)")
		if err := w.store.DeleteFeedToFetch(work.Key); err != nil {
			logger.Error().Err(err).Msg("failed to delete feed-to-fetch record")
		}
		return
	}
	if resp.StatusCode != http.StatusOK {
		logger.Error().Int("status_code", resp.StatusCode).Msg("received bad status code")
		w.fetchFailed(logger, work)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read feed body")
		w.fetchFailed(logger, work)
		return
	}

	order := []feeddiff.Format{feeddiff.Atom, feeddiff.RSS}
	if contentTypeHintsRSS(feedRecord.ContentType) {
		order = []feeddiff.Format{feeddiff.RSS, feeddiff.Atom}
	}

	var (
		format        feeddiff.Format
		envelope      []byte
		entries       []feeddiff.Entry
		parseFailures int
	)
	for _, f := range order {
		envelope, entries, err = feeddiff.DiffFeed(body, f)
		if err == nil {
			format = f
			break
		}
		parseFailures++
	}
	if parseFailures == len(order) {
		logger.Error().Err(err).Int("bytes", len(body)).Msg("could not parse feed in any known format")
		w.fetchFailed(logger, work)
		return
	}

	newEntries, payloads, err := w.findUpdates(work.Topic, entries)
	if err != nil {
		logger.Error().Err(err).Msg("failed to diff feed entries")
		w.fetchFailed(logger, work)
		return
	}

	var event *types.EventToDeliver
	if len(newEntries) == 0 {
		logger.Info().Msg("no new entries found")
	} else {
		logger.Info().Int("count", len(newEntries)).Msg("saving new or updated entries")
		metrics.NewEntriesTotal.Add(float64(len(newEntries)))
		payload, err := feeddiff.SplicePayload(format, envelope, payloads)
		if err != nil {
			logger.Error().Err(err).Msg("failed to splice delivery payload")
			w.fetchFailed(logger, work)
			return
		}
		event = &types.EventToDeliver{
			Key:          storage.HashKey(work.Topic),
			Topic:        work.Topic,
			TopicHash:    storage.Sha1Hash(work.Topic),
			Payload:      payload,
			DeliveryMode: types.DeliveryNormal,
			LastModified: w.clock.Now(),
		}
	}

	feedRecord.ContentType = resp.Header.Get("Content-Type")
	feedRecord.LastModified = resp.Header.Get("Last-Modified")
	feedRecord.ETag = resp.Header.Get("ETag")
	feedRecord.HeaderFooter = string(envelope)
	feedRecord.LastUpdated = w.clock.Now()

	if err := w.store.CommitPull(feedRecord, newEntries, event); err != nil {
		logger.Error().Err(err).Msg("failed to commit pull results")
		return
	}
	if err := w.store.DeleteFeedToFetch(work.Key); err != nil {
		logger.Error().Err(err).Msg("failed to delete feed-to-fetch record")
	}
}

// findUpdates compares entries against previously seen FeedEntryRecords for
// topic, returning the records to save and their raw payloads for any entry
// that is new or whose content hash has changed, matching find_feed_updates in
// original_source/hub/main.py.
func (w *PullWorker) findUpdates(topic string, entries []feeddiff.Entry) ([]*types.FeedEntryRecord, [][]byte, error) {
	topicHash := storage.HashKey(topic)
	entryHashes := make([]string, len(entries))
	for i, e := range entries {
		entryHashes[i] = storage.Sha1Hash(e.ID)
	}
	existing, err := w.store.GetFeedEntryRecords(topicHash, entryHashes)
	if err != nil {
		return nil, nil, err
	}

	var records []*types.FeedEntryRecord
	var payloads [][]byte
	for i, e := range entries {
		contentHash := storage.Sha1Hash(string(e.Content))
		if old, ok := existing[entryHashes[i]]; ok && old.EntryContentHash == contentHash {
			continue
		}
		payloads = append(payloads, e.Content)
		records = append(records, &types.FeedEntryRecord{
			Key:              storage.HashKey(e.ID),
			EntryID:          e.ID,
			EntryIDHash:      entryHashes[i],
			EntryContentHash: contentHash,
			UpdateTime:       w.clock.Now(),
		})
	}
	return records, payloads, nil
}

func (w *PullWorker) fetchFailed(logger zerolog.Logger, work *types.FeedToFetch) {
	metrics.PullFailuresTotal.Inc()
	if work.FetchingFailures >= w.cfg.MaxFeedPullFailures {
		logger.Info().Msg("max fetching failures exceeded, giving up")
		work.TotallyFailed = true
	} else {
		backoff := w.cfg.FeedPullRetryPeriod * time.Duration(1<<uint(work.FetchingFailures))
		logger.Error().Dur("retry_in", backoff).Msg("fetching failed, will retry")
		work.ETA = w.clock.Now().Add(backoff)
		work.FetchingFailures++
	}
	if err := w.store.PutFeedToFetch(work); err != nil {
		logger.Error().Err(err).Msg("failed to persist fetch failure")
	}
}

func contentTypeHintsRSS(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "rss")
}
