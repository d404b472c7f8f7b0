package worker

import (
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/types"
	"github.com/rs/zerolog"
)

// BootstrapWorker periodically re-queues every known feed for a pull, so
// feeds with broken publish-side notification still eventually get fresh
// content delivered. It walks the known-feed set in chunks, tracked by a
// durable PollingMarker cursor, matching PollBootstrapHandler and
// PollingMarker in original_source/hub/main.py.
type BootstrapWorker struct {
	store  storage.Store
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewBootstrapWorker builds a BootstrapWorker.
func NewBootstrapWorker(store storage.Store, clk clock.Clock, cfg Config) *BootstrapWorker {
	return &BootstrapWorker{
		store:  store,
		clock:  clk,
		cfg:    cfg,
		logger: log.WithComponent("bootstrap_worker"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the bootstrap worker's ticker loop.
func (w *BootstrapWorker) Start() {
	go w.run()
}

// Stop stops the bootstrap worker.
func (w *BootstrapWorker) Stop() {
	close(w.stopCh)
}

func (w *BootstrapWorker) run() {
	ticker := time.NewTicker(w.cfg.BootstrapInterval)
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

// RunOnce runs a single bootstrap cycle synchronously, for operator-triggered
// work endpoints.
func (w *BootstrapWorker) RunOnce() {
	w.runCycle()
}

func (w *BootstrapWorker) runCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BootstrapDuration)

	marker, err := w.store.GetPollingMarker()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to load polling marker")
		return
	}
	if marker.NextStart.IsZero() {
		marker.NextStart = w.clock.Now().Add(-time.Minute)
	}

	if !w.shouldProgress(marker) {
		return
	}
	metrics.BootstrapCyclesTotal.Inc()

	feeds, err := w.store.ListKnownFeeds(marker.CurrentKey, w.cfg.BootstrapFeedChunkSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list known feeds")
		return
	}

	if len(feeds) > 0 {
		marker.CurrentKey = feeds[len(feeds)-1].Key
		w.logger.Info().Int("count", len(feeds)).Str("last_topic", feeds[len(feeds)-1].Topic).Msg("found more feeds to poll")
	} else {
		w.logger.Info().Time("next_start", marker.NextStart).Msg("polling cycle complete; starting again later")
		marker.CurrentKey = ""
	}

	for _, feed := range feeds {
		if err := w.store.PutFeedToFetch(&types.FeedToFetch{
			Key:   storage.HashKey(feed.Topic),
			Topic: feed.Topic,
			ETA:   w.clock.Now(),
		}); err != nil {
			w.logger.Error().Err(err).Str("topic", feed.Topic).Msg("failed to queue feed for pull")
			continue
		}
		metrics.BootstrapFeedsQueuedTotal.Inc()
	}

	if err := w.store.PutPollingMarker(marker); err != nil {
		w.logger.Error().Err(err).Msg("failed to persist polling marker")
	}
}

// shouldProgress reports whether the bootstrap cycle should run now, and
// advances the marker's next-start time when a fresh cycle begins, matching
// PollingMarker.should_progress.
func (w *BootstrapWorker) shouldProgress(marker *types.PollingMarker) bool {
	now := w.clock.Now()
	if marker.NextStart.Before(now) {
		w.logger.Info().Msg("polling starting afresh")
		marker.NextStart = now.Add(w.cfg.BootstrapPeriod)
		marker.CurrentKey = ""
		return true
	}
	return marker.CurrentKey != ""
}
