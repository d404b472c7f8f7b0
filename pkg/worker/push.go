package worker

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PushWorker delivers queued EventToDeliver payloads to verified subscribers,
// chunking through the subscriber list and retrying any callback that fails
// with exponential backoff, matching PushEventHandler and EventToDeliver's
// update()/get_next_subscribers() in original_source/hub/main.py.
type PushWorker struct {
	store      storage.Store
	subs       *subscription.Manager
	dispatcher *lease.Dispatcher
	clock      clock.Clock
	cfg        Config
	client     *http.Client
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// NewPushWorker builds a PushWorker.
func NewPushWorker(store storage.Store, subs *subscription.Manager, dispatcher *lease.Dispatcher, clk clock.Clock, cfg Config) *PushWorker {
	return &PushWorker{
		store:      store,
		subs:       subs,
		dispatcher: dispatcher,
		clock:      clk,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.DeliverTimeout},
		logger:     log.WithComponent("push_worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the push worker's ticker loop.
func (w *PushWorker) Start() {
	go w.run()
}

// Stop stops the push worker.
func (w *PushWorker) Stop() {
	close(w.stopCh)
}

func (w *PushWorker) run() {
	ticker := time.NewTicker(w.cfg.PushInterval)
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

func (w *PushWorker) getWork() (*types.EventToDeliver, error) {
	limit := lease.SampleLimit(1)
	due, err := w.store.ListDueEventsToDeliver(w.clock.Now(), limit)
	if err != nil {
		return nil, err
	}
	var candidates []*types.EventToDeliver
	for _, e := range due {
		if !e.TotallyFailed {
			candidates = append(candidates, e)
		}
	}
	byKey := make(map[string]*types.EventToDeliver, len(candidates))
	keys := make([]string, len(candidates))
	for i, e := range candidates {
		keys[i] = e.Key
		byKey[e.Key] = e
	}
	owned := w.dispatcher.QueryAndOwn(keys, 1, w.cfg.LeasePeriod)
	if len(owned) == 0 {
		return nil, nil
	}
	return byKey[owned[0]], nil
}

// RunOnce runs a single push cycle synchronously, for operator-triggered
// work endpoints.
func (w *PushWorker) RunOnce() {
	w.runCycle()
}

func (w *PushWorker) runCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PushDuration)
	metrics.PushCyclesTotal.Inc()

	event, err := w.getWork()
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to fetch push work")
		return
	}
	if event == nil {
		w.logger.Debug().Msg("no events to deliver")
		return
	}
	defer w.dispatcher.Release([]string{event.Key})

	logger := log.WithEventKey(event.Key)

	moreSubscribers, recipients, err := w.nextSubscribers(event)
	if err != nil {
		logger.Error().Err(err).Msg("failed to page through subscribers")
		return
	}
	logger.Info().Int("count", len(recipients)).Str("topic", event.Topic).Str("delivery_mode", string(event.DeliveryMode)).Msg("delivering to subscribers")

	failed := w.deliverAll(recipients, event.Payload)

	if err := w.update(event, moreSubscribers, failed); err != nil {
		logger.Error().Err(err).Msg("failed to record delivery progress")
	}
}

// nextSubscribers returns the next chunk of subscribers to attempt delivery
// for, and whether more remain after this chunk, mirroring
// EventToDeliver.get_next_subscribers.
func (w *PushWorker) nextSubscribers(event *types.EventToDeliver) (bool, []*types.Subscription, error) {
	chunkSize := w.cfg.SubscriberChunkSize

	if event.DeliveryMode == types.DeliveryRetry {
		nextChunk := event.FailedCallbacks
		if len(nextChunk) > chunkSize {
			nextChunk = nextChunk[:chunkSize]
		}
		moreSubscribers := len(event.FailedCallbacks) > len(nextChunk)

		if event.LastCallback != "" {
			for i, key := range nextChunk {
				if key == event.LastCallback {
					moreSubscribers = false
					nextChunk = nextChunk[:i]
					break
				}
			}
		}

		var recipients []*types.Subscription
		for _, key := range nextChunk {
			sub, err := w.store.GetSubscription(key)
			if err != nil {
				continue
			}
			recipients = append(recipients, sub)
		}
		if len(recipients) > 0 && event.LastCallback == "" {
			event.LastCallback = recipients[0].Key
		}
		event.FailedCallbacks = event.FailedCallbacks[len(nextChunk):]
		return moreSubscribers, recipients, nil
	}

	all, err := w.subs.GetSubscribers(event.Topic, chunkSize+1, event.LastCallback)
	if err != nil {
		return false, nil, err
	}
	if len(all) > 0 {
		event.LastCallback = all[len(all)-1].CallbackHash
	} else {
		event.LastCallback = ""
	}
	moreSubscribers := len(all) > chunkSize
	if len(all) > chunkSize {
		all = all[:chunkSize]
	}
	return moreSubscribers, all, nil
}

// deliverAll POSTs payload to every recipient's callback concurrently,
// bounded to the subscriber chunk size in flight at once, and returns the
// subset that failed to accept delivery.
func (w *PushWorker) deliverAll(recipients []*types.Subscription, payload string) []*types.Subscription {
	if len(recipients) == 0 {
		return nil
	}

	var mu sync.Mutex
	failed := make(map[string]*types.Subscription, len(recipients))
	for _, sub := range recipients {
		failed[sub.Key] = sub
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(w.cfg.SubscriberChunkSize)
	for _, sub := range recipients {
		sub := sub
		g.Go(func() error {
			if w.deliverOne(ctx, sub.Callback, payload) {
				mu.Lock()
				delete(failed, sub.Key)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*types.Subscription, 0, len(failed))
	for _, sub := range recipients {
		if s, ok := failed[sub.Key]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (w *PushWorker) deliverOne(ctx context.Context, callback, payload string) bool {
	metrics.DeliveryAttemptsTotal.WithLabelValues("attempted").Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, bytes.NewReader([]byte(payload)))
	if err != nil {
		metrics.DeliveryAttemptsTotal.WithLabelValues("error").Inc()
		return false
	}
	req.Header.Set("Content-Type", "application/atom+xml")

	resp, err := w.client.Do(req)
	if err != nil {
		log.WithCallback(callback).Warn().Err(err).Msg("delivery failed")
		metrics.DeliveryAttemptsTotal.WithLabelValues("error").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		log.WithCallback(callback).Warn().Int("status_code", resp.StatusCode).Msg("delivery rejected")
		metrics.DeliveryAttemptsTotal.WithLabelValues("rejected").Inc()
		return false
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues("delivered").Inc()
	return true
}

// update records delivery progress on event, deleting it once there is
// nothing left to retry or applying exponential backoff otherwise, matching
// EventToDeliver.update.
func (w *PushWorker) update(event *types.EventToDeliver, moreCallbacks bool, newlyFailed []*types.Subscription) error {
	event.LastModified = w.clock.Now()

	sort.Slice(newlyFailed, func(i, j int) bool { return newlyFailed[i].CallbackHash < newlyFailed[j].CallbackHash })
	for _, sub := range newlyFailed {
		event.FailedCallbacks = append(event.FailedCallbacks, sub.Key)
	}

	if !moreCallbacks && len(event.FailedCallbacks) == 0 {
		log.WithEventKey(event.Key).Info().Str("topic", event.Topic).Msg("event delivery complete")
		return w.store.DeleteEventToDeliver(event.Key)
	}
	if !moreCallbacks {
		event.LastCallback = ""
		backoff := w.cfg.DeliveryRetryPeriod * time.Duration(1<<uint(event.RetryAttempts))
		event.LastModified = event.LastModified.Add(backoff)
		event.RetryAttempts++
		if event.RetryAttempts > w.cfg.MaxDeliveryFailures {
			event.TotallyFailed = true
			metrics.EventsTotallyFailedTotal.Inc()
		}
		if event.DeliveryMode == types.DeliveryNormal {
			event.DeliveryMode = types.DeliveryRetry
		}
	}
	return w.store.PutEventToDeliver(event)
}
