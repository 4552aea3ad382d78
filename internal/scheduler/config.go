package scheduler

import (
	"time"

	"github.com/smallbiznis/supplyrail/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	StaleAfter  time.Duration
	// BillingDay is the first UTC day of the month accounts are billed on.
	BillingDay  int
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  10 * time.Minute,
		BatchSize:   50,
		StaleAfter:  30 * time.Minute,
		BillingDay:  1,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		StaleAfter:  cfg.Scheduler.StaleAfter,
		BillingDay:  cfg.Scheduler.BillingDayUTC,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}
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
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaults.StaleAfter
	}
	if c.BillingDay < 1 || c.BillingDay > 28 {
		c.BillingDay = defaults.BillingDay
	}
	return c
}
