/*
Package metrics defines and registers the hub's Prometheus collectors:
subscription counts by state, per-worker cycle counters and duration
histograms, delivery outcome counters, and HTTP request counters, all
exposed via Handler() for scraping.

Collector refreshes the gauges that can't be updated incrementally from a
single worker cycle (SubscriptionsTotal) on its own ticker. HealthChecker
(health.go) is a separate, minimal component registry used by pkg/httpapi to
back /health, /ready, and /live; "store" is the only component currently
treated as critical for readiness.

Timer is the shared helper for recording cycle and request durations:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PullDuration)
*/
package metrics
