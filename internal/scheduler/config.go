package scheduler

import (
	"time"

	"github.com/smallbiznis/receivables/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Hour,
		JobTimeout:  10 * time.Minute,
		BatchSize:   200,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Reconcile.SchedulerEnabled,
		RunInterval: cfg.Reconcile.Interval,
		JobTimeout:  cfg.Reconcile.Timeout,
		BatchSize:   cfg.Reconcile.BatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	return c
}
