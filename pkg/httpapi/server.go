// Package httpapi implements the hub's HTTP surface: publish/subscribe
// ingress, operator-only work-trigger endpoints, and the ambient
// health/ready/metrics endpoints, following the teacher's pkg/api/health.go
// net/http server shape rather than its gRPC cluster-management server.
package httpapi

import (
	"net/http"
	"time"

	"github.com/pushhub/hub/pkg/lease"
	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/metrics"
	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/worker"
	"github.com/rs/zerolog"
)

// Server is the hub's HTTP front end.
type Server struct {
	store      storage.Store
	subs       *subscription.Manager
	dispatcher *lease.Dispatcher
	auth       Authorizer
	devMode    bool

	confirm   *worker.ConfirmWorker
	pull      *worker.PullWorker
	push      *worker.PushWorker
	bootstrap *worker.BootstrapWorker

	mux    *http.ServeMux
	logger zerolog.Logger
}

// Workers bundles the four background workers whose cycles the operator
// work endpoints can trigger synchronously.
type Workers struct {
	Confirm   *worker.ConfirmWorker
	Pull      *worker.PullWorker
	Push      *worker.PushWorker
	Bootstrap *worker.BootstrapWorker
}

// NewServer builds a Server and registers its routes.
func NewServer(store storage.Store, subs *subscription.Manager, dispatcher *lease.Dispatcher, auth Authorizer, devMode bool, workers Workers) *Server {
	s := &Server{
		store:      store,
		subs:       subs,
		dispatcher: dispatcher,
		auth:       auth,
		devMode:    devMode,
		confirm:    workers.Confirm,
		pull:       workers.Pull,
		push:       workers.Push,
		bootstrap:  workers.Bootstrap,
		mux:        http.NewServeMux(),
		logger:     log.WithComponent("httpapi"),
	}

	s.mux.HandleFunc("/", s.instrument("/", s.handleHub))
	s.mux.HandleFunc("/publish", s.instrument("/publish", s.handlePublish))
	s.mux.HandleFunc("/subscribe", s.instrument("/subscribe", s.handleSubscribe))

	s.mux.HandleFunc("/work/subscriptions", s.instrument("/work/subscriptions", s.requireAuth(s.handleWorkSubscriptions)))
	s.mux.HandleFunc("/work/pull_feeds", s.instrument("/work/pull_feeds", s.requireAuth(s.handleWorkPullFeeds)))
	s.mux.HandleFunc("/work/push_events", s.instrument("/work/push_events", s.requireAuth(s.handleWorkPushEvents)))
	s.mux.HandleFunc("/work/poll_bootstrap", s.instrument("/work/poll_bootstrap", s.requireAuth(s.handleWorkPollBootstrap)))

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/ready", metrics.ReadyHandler())
	s.mux.Handle("/live", metrics.LivenessHandler())

	return s
}

// Handler returns the server's http.Handler, for use with httptest or a
// custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts an http.Server bound to addr, matching the teacher's
// HealthServer.Start timeouts.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Allow(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
