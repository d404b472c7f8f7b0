package metrics

import (
	"time"

	"github.com/pushhub/hub/pkg/storage"
	"github.com/pushhub/hub/pkg/types"
)

// Collector periodically refreshes the gauge metrics that can't be updated
// incrementally from a single worker cycle, such as the subscription count
// broken out by state.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSubscriptionMetrics()
}

func (c *Collector) collectSubscriptionMetrics() {
	counts := make(map[types.SubscriptionState]int)
	for _, state := range []types.SubscriptionState{
		types.SubscriptionPendingVerify,
		types.SubscriptionVerified,
		types.SubscriptionPendingDelete,
	} {
		subs, err := c.store.ListDueSubscriptions(state, farFuture(), 0)
		if err != nil {
			return
		}
		counts[state] = len(subs)
	}
	for state, count := range counts {
		SubscriptionsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func farFuture() time.Time {
	return time.Now().AddDate(100, 0, 0)
}
