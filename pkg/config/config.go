// Package config loads the hub's YAML configuration file: a single flat
// document of top-level hub process settings (no apiVersion/kind envelope).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pushhub/hub/pkg/log"
	"github.com/pushhub/hub/pkg/subscription"
	"github.com/pushhub/hub/pkg/worker"
	"gopkg.in/yaml.v3"
)

// Config is the hub's full runtime configuration, loadable from a YAML file
// or left at its defaults.
type Config struct {
	// DataDir is where the bbolt database file lives.
	DataDir string `yaml:"dataDir"`

	// HTTPAddr is the address the ingress/work/health HTTP server binds.
	HTTPAddr string `yaml:"httpAddr"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`

	// DevMode relaxes is_valid_url's port restriction and bypasses operator
	// auth, matching original_source's DEBUG/dev_appserver carve-outs.
	DevMode bool `yaml:"devMode"`

	// CronToken is the shared secret operator-cron callers present via the
	// X-Hub-Cron-Token header to trigger /work/* endpoints.
	CronToken string `yaml:"cronToken"`

	// AdminToken is the bearer token an authenticated administrator presents
	// to trigger /work/* endpoints outside of the cron schedule.
	AdminToken string `yaml:"adminToken"`

	Subscription subscription.Config `yaml:"-"`
	Worker       worker.Config        `yaml:"-"`

	LeasePeriodSeconds          int `yaml:"leasePeriodSeconds"`
	MaxFeedPullFailures         int `yaml:"maxFeedPullFailures"`
	FeedPullRetryPeriodSeconds  int `yaml:"feedPullRetryPeriodSeconds"`
	MaxDeliveryFailures         int `yaml:"maxDeliveryFailures"`
	DeliveryRetryPeriodSeconds  int `yaml:"deliveryRetryPeriodSeconds"`
	SubscriberChunkSize         int `yaml:"subscriberChunkSize"`
	BootstrapFeedChunkSize      int `yaml:"bootstrapFeedChunkSize"`
	BootstrapPeriodSeconds      int `yaml:"bootstrapPeriodSeconds"`
	MaxConfirmFailures          int `yaml:"maxConfirmFailures"`
	ConfirmRetryPeriodSeconds   int `yaml:"confirmRetryPeriodSeconds"`
	SubscriptionExpirationDays  int `yaml:"subscriptionExpirationDays"`
}

// Default returns a Config with the original hub's constants as defaults.
func Default() Config {
	wc := worker.DefaultConfig()
	sc := subscription.DefaultConfig()
	return Config{
		DataDir:                    "./hub-data",
		HTTPAddr:                   "127.0.0.1:8080",
		LogLevel:                   "info",
		LogJSON:                    false,
		Subscription:               sc,
		Worker:                     wc,
		LeasePeriodSeconds:         int(wc.LeasePeriod / time.Second),
		MaxFeedPullFailures:        wc.MaxFeedPullFailures,
		FeedPullRetryPeriodSeconds: int(wc.FeedPullRetryPeriod / time.Second),
		MaxDeliveryFailures:        wc.MaxDeliveryFailures,
		DeliveryRetryPeriodSeconds: int(wc.DeliveryRetryPeriod / time.Second),
		SubscriberChunkSize:        wc.SubscriberChunkSize,
		BootstrapFeedChunkSize:     wc.BootstrapFeedChunkSize,
		BootstrapPeriodSeconds:     int(wc.BootstrapPeriod / time.Second),
		MaxConfirmFailures:         sc.MaxConfirmFailures,
		ConfirmRetryPeriodSeconds:  int(sc.ConfirmRetryPeriod / time.Second),
		SubscriptionExpirationDays: int(sc.ExpirationDelta / (24 * time.Hour)),
	}
}

// Load reads and parses a YAML configuration file, applying its values over
// Default(). A missing or empty path simply returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyOverrides()
	return cfg, nil
}

// applyOverrides propagates the flat, human-editable duration/count fields
// onto the nested worker/subscription configs used by the rest of the hub.
func (c *Config) applyOverrides() {
	c.Worker.LeasePeriod = time.Duration(c.LeasePeriodSeconds) * time.Second
	c.Worker.MaxFeedPullFailures = c.MaxFeedPullFailures
	c.Worker.FeedPullRetryPeriod = time.Duration(c.FeedPullRetryPeriodSeconds) * time.Second
	c.Worker.MaxDeliveryFailures = c.MaxDeliveryFailures
	c.Worker.DeliveryRetryPeriod = time.Duration(c.DeliveryRetryPeriodSeconds) * time.Second
	c.Worker.SubscriberChunkSize = c.SubscriberChunkSize
	c.Worker.BootstrapFeedChunkSize = c.BootstrapFeedChunkSize
	c.Worker.BootstrapPeriod = time.Duration(c.BootstrapPeriodSeconds) * time.Second

	c.Subscription.LeasePeriod = c.Worker.LeasePeriod
	c.Subscription.MaxConfirmFailures = c.MaxConfirmFailures
	c.Subscription.ConfirmRetryPeriod = time.Duration(c.ConfirmRetryPeriodSeconds) * time.Second
	c.Subscription.ExpirationDelta = time.Duration(c.SubscriptionExpirationDays) * 24 * time.Hour
	c.Subscription.SubscriberChunkSize = c.SubscriberChunkSize
}

// LogConfig builds the pkg/log.Config this Config implies.
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.LogLevel),
		JSONOutput: c.LogJSON,
	}
}
