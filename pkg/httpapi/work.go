package httpapi

import "net/http"

// The /work/* endpoints mirror original_source's @work_queue_only GET
// handlers (SubscriptionConfirmHandler, PullFeedHandler, PushEventHandler,
// PollBootstrapHandler): each triggers exactly one synchronous cycle of its
// corresponding background worker and returns 204.

func (s *Server) handleWorkSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.confirm.RunOnce()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkPullFeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.pull.RunOnce()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkPushEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.push.RunOnce()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkPollBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.bootstrap.RunOnce()
	w.WriteHeader(http.StatusNoContent)
}
