package worker

import (
	"net/http"
	"net/url"
	"time"

	"github.com/pushhub/hub/pkg/clock"
	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/types"
	"github.com/rs/zerolog"
)

// ConfirmWorker asynchronously confirms or removes subscriptions that were
// requested via the async hub.verify path, by replaying the verification
// handshake against the subscriber's callback URL.
type ConfirmWorker struct {
	subs       *subscription.Manager
	dispatcher *lease.Dispatcher
	clock      clock.Clock
	cfg        Config
	client     *http.Client
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// NewConfirmWorker builds a ConfirmWorker.
func NewConfirmWorker(subs *subscription.Manager, dispatcher *lease.Dispatcher, clk clock.Clock, cfg Config) *ConfirmWorker {
	return &ConfirmWorker{
		subs:       subs,
		dispatcher: dispatcher,
		clock:      clk,
		cfg:        cfg,
		client:     NewHandshakeClient(cfg.FetchTimeout),
		logger:     log.WithComponent("confirm_worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the confirm worker's ticker loop.
func (w *ConfirmWorker) Start() {
	go w.run()
}

// Stop stops the confirm worker.
func (w *ConfirmWorker) Stop() {
	close(w.stopCh)
}

func (w *ConfirmWorker) run() {
	ticker := time.NewTicker(w.cfg.ConfirmInterval)
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

// RunOnce runs a single confirm cycle synchronously, for operator-triggered
// work endpoints.
func (w *ConfirmWorker) RunOnce() {
	w.runCycle()
}

func (w *ConfirmWorker) runCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ConfirmDuration)
	metrics.ConfirmCyclesTotal.Inc()

	sub, err := w.subs.GetConfirmWork(w.dispatcher)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to fetch confirm work")
		return
	}
	if sub == nil {
		w.logger.Debug().Msg("no subscriptions to confirm")
		return
	}
	defer w.dispatcher.Release([]string{sub.Key})

	mode := "subscribe"
	if sub.State == types.SubscriptionPendingDelete {
		mode = "unsubscribe"
	}

	logger := log.WithCallback(sub.Callback)
	logger.Info().Str("topic", sub.Topic).Str("mode", mode).Msg("attempting to confirm subscription")

	if w.confirm(mode, sub.Topic, sub.Callback, sub.VerifyToken) {
		var confirmErr error
		if mode == "subscribe" {
			_, confirmErr = w.subs.Insert(sub.Callback, sub.Topic)
		} else {
			_, confirmErr = w.subs.Remove(sub.Callback, sub.Topic)
		}
		if confirmErr != nil {
			logger.Error().Err(confirmErr).Msg("failed to persist confirmed subscription")
			return
		}
		logger.Info().Str("mode", mode).Msg("subscription action verified")
		return
	}

	metrics.ConfirmFailuresTotal.Inc()
	if err := w.subs.ConfirmFailed(sub); err != nil {
		logger.Error().Err(err).Msg("failed to record confirm failure")
	}
}

// confirm replays the verification handshake against callback, matching
// ConfirmSubscription in original_source/hub/main.py: a GET request carrying
// hub.mode, hub.topic, and hub.verify_token as query parameters, with a bare
// 204 response counting as success.
func (w *ConfirmWorker) confirm(mode, topic, callback, verifyToken string) bool {
	ok, _ := ConfirmHandshake(w.client, mode, topic, callback, verifyToken)
	return ok
}

// NewHandshakeClient builds an http.Client suitable for ConfirmHandshake:
// redirects are not followed, matching ConfirmSubscription's requests.get
// call in original_source/hub/main.py.
func NewHandshakeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ConfirmHandshake replays the verification handshake against callback:
// a GET request carrying hub.mode, hub.topic, and hub.verify_token as query
// parameters, with a bare 204 response counting as success. It is shared
// between the asynchronous confirm worker and the synchronous /subscribe
// path, matching ConfirmSubscription in original_source/hub/main.py.
func ConfirmHandshake(client *http.Client, mode, topic, callback, verifyToken string) (bool, error) {
	adjusted, err := url.Parse(callback)
	if err != nil {
		return false, err
	}
	q := url.Values{}
	q.Set("hub.mode", mode)
	q.Set("hub.topic", topic)
	q.Set("hub.verify_token", verifyToken)
	adjusted.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, adjusted.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusNoContent, nil
}
