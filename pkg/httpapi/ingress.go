package httpapi

import (
	"net/http"
	"time"

	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/types"
	"github.com/pushhub/hub/pkg/worker"
)

// handleHub dispatches a bare POST / by hub.mode, matching HubHandler in
// original_source/hub/main.py.
func (s *Server) handleHub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	switch r.FormValue("hub.mode") {
	case "publish":
		s.handlePublish(w, r)
	case "subscribe", "unsubscribe":
		s.handleSubscribe(w, r)
	default:
		http.Error(w, "invalid hub.mode", http.StatusBadRequest)
	}
}

// handlePublish implements PublishHandler.post: every hub.url is validated,
// and any URL that is a known feed (has existing subscribers) gets queued
// for an immediate pull.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	if r.FormValue("hub.mode") != "publish" {
		http.Error(w, "hub.mode must be publish", http.StatusBadRequest)
		return
	}

	urls := r.Form["hub.url"]
	if len(urls) == 0 {
		http.Error(w, "hub.url is required", http.StatusBadRequest)
		return
	}
	for _, topic := range urls {
		if err := validateURL(topic, s.devMode); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	logger := log.WithComponent("httpapi")
	for _, topic := range urls {
		known, err := s.store.GetKnownFeed(storage.HashKey(topic))
		if err != nil || known == nil {
			continue
		}
		if err := s.store.PutFeedToFetch(&types.FeedToFetch{
			Key:   storage.HashKey(topic),
			Topic: topic,
			ETA:   time.Now(),
		}); err != nil {
			logger.Error().Err(err).Str("topic", topic).Msg("failed to queue publish notification")
			w.Header().Set("Retry-After", "120")
			http.Error(w, "storage error", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSubscribe implements SubscribeHandler.post: validates the
// subscription request, then either replays the verification handshake
// synchronously or records an asynchronous confirm-work item, following
// original_source/hub/main.py exactly.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	mode := r.FormValue("hub.mode")
	callback := r.FormValue("hub.callback")
	topic := r.FormValue("hub.topic")
	verify := r.FormValue("hub.verify")
	verifyToken := r.FormValue("hub.verify_token")

	if mode != "subscribe" && mode != "unsubscribe" {
		http.Error(w, "hub.mode must be subscribe or unsubscribe", http.StatusBadRequest)
		return
	}
	if err := validateURL(callback, s.devMode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateURL(topic, s.devMode); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	verifyMode, ok := firstSupportedVerifyMode(verify)
	if !ok {
		http.Error(w, "hub.verify must be sync, async, or a comma-separated preference of both", http.StatusBadRequest)
		return
	}
	if verifyToken == "" {
		http.Error(w, "hub.verify_token is required", http.StatusBadRequest)
		return
	}

	logger := log.WithCallback(callback)

	if mode == "unsubscribe" {
		existing, err := s.store.GetSubscription(storage.SubscriptionKey(callback, topic))
		if err != nil || existing == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if verifyMode == "sync" {
		client := worker.NewHandshakeClient(30 * time.Second)
		ok, err := worker.ConfirmHandshake(client, mode, topic, callback, verifyToken)
		if err != nil || !ok {
			logger.Warn().Str("topic", topic).Str("mode", mode).Msg("synchronous verification failed")
			http.Error(w, "verification failed", http.StatusConflict)
			return
		}

		var confirmErr error
		if mode == "subscribe" {
			_, confirmErr = s.subs.Insert(callback, topic)
			if confirmErr == nil {
				confirmErr = s.store.PutKnownFeed(&types.KnownFeed{Key: storage.HashKey(topic), Topic: topic})
			}
		} else {
			_, confirmErr = s.subs.Remove(callback, topic)
		}
		if confirmErr != nil {
			logger.Error().Err(confirmErr).Msg("failed to persist verified subscription")
			w.Header().Set("Retry-After", "120")
			http.Error(w, "storage error", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var requestErr error
	if mode == "subscribe" {
		_, requestErr = s.subs.RequestInsert(callback, topic, verifyToken)
		if requestErr == nil {
			requestErr = s.store.PutKnownFeed(&types.KnownFeed{Key: storage.HashKey(topic), Topic: topic})
		}
	} else {
		_, requestErr = s.subs.RequestRemove(callback, topic, verifyToken)
	}
	if requestErr != nil {
		logger.Error().Err(requestErr).Msg("failed to record subscription request")
		w.Header().Set("Retry-After", "120")
		http.Error(w, "storage error", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
