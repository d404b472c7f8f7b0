package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Subscription metrics
	SubscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_subscriptions_total",
			Help: "Total number of subscriptions by state",
		},
		[]string{"state"},
	)

	ConfirmCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_confirm_cycles_total",
			Help: "Total number of confirm-worker cycles run",
		},
	)

	ConfirmFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_confirm_failures_total",
			Help: "Total number of failed subscription confirmation handshakes",
		},
	)

	ConfirmDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_confirm_duration_seconds",
			Help:    "Time taken to run one confirm-worker cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Feed-pull metrics
	PullCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_pull_cycles_total",
			Help: "Total number of feed-pull worker cycles run",
		},
	)

	PullFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_pull_failures_total",
			Help: "Total number of failed feed pulls",
		},
	)

	PullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_pull_duration_seconds",
			Help:    "Time taken to run one feed-pull worker cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	NewEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_new_entries_total",
			Help: "Total number of new or updated feed entries found while pulling",
		},
	)

	// Push-delivery metrics
	PushCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_push_cycles_total",
			Help: "Total number of push-delivery worker cycles run",
		},
	)

	PushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_push_duration_seconds",
			Help:    "Time taken to run one push-delivery worker cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_delivery_attempts_total",
			Help: "Total number of callback delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	EventsTotallyFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_events_totally_failed_total",
			Help: "Total number of delivery events that exceeded the maximum retry count",
		},
	)

	// Bootstrap poller metrics
	BootstrapCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_bootstrap_cycles_total",
			Help: "Total number of bootstrap-poller cycles run",
		},
	)

	BootstrapFeedsQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_bootstrap_feeds_queued_total",
			Help: "Total number of feeds queued for a pull by the bootstrap poller",
		},
	)

	BootstrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_bootstrap_duration_seconds",
			Help:    "Time taken to run one bootstrap-poller cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP surface metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(ConfirmCyclesTotal)
	prometheus.MustRegister(ConfirmFailuresTotal)
	prometheus.MustRegister(ConfirmDuration)
	prometheus.MustRegister(PullCyclesTotal)
	prometheus.MustRegister(PullFailuresTotal)
	prometheus.MustRegister(PullDuration)
	prometheus.MustRegister(NewEntriesTotal)
	prometheus.MustRegister(PushCyclesTotal)
	prometheus.MustRegister(PushDuration)
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(EventsTotallyFailedTotal)
	prometheus.MustRegister(BootstrapCyclesTotal)
	prometheus.MustRegister(BootstrapFeedsQueuedTotal)
	prometheus.MustRegister(BootstrapDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
