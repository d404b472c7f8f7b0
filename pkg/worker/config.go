package worker

import "time"

// Config holds the tunable constants shared by the background workers,
// mirroring original_source/hub/main.py's module-level constants.
type Config struct {
	LeasePeriod time.Duration

	MaxFeedPullFailures int
	FeedPullRetryPeriod time.Duration

	MaxDeliveryFailures int
	DeliveryRetryPeriod time.Duration
	SubscriberChunkSize int

	BootstrapFeedChunkSize int
	BootstrapPeriod        time.Duration

	ConfirmInterval   time.Duration
	PullInterval      time.Duration
	PushInterval      time.Duration
	BootstrapInterval time.Duration

	FetchTimeout   time.Duration
	DeliverTimeout time.Duration
}

// DefaultConfig matches the original hub's worker-tunable constants.
func DefaultConfig() Config {
	return Config{
		LeasePeriod: 15 * time.Second,

		MaxFeedPullFailures: 9,
		FeedPullRetryPeriod: 60 * time.Second,

		MaxDeliveryFailures: 8,
		DeliveryRetryPeriod: 60 * time.Second,
		SubscriberChunkSize: 10,

		BootstrapFeedChunkSize: 200,
		BootstrapPeriod:        3 * time.Hour,

		ConfirmInterval:   5 * time.Second,
		PullInterval:      5 * time.Second,
		PushInterval:      5 * time.Second,
		BootstrapInterval: 60 * time.Second,

		FetchTimeout:   30 * time.Second,
		DeliverTimeout: 30 * time.Second,
	}
}
