package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/config"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// Config controls the sweep cadence and batch sizes.
type Config struct {
	Enabled       bool
	SweepInterval time.Duration
	SweepTimeout  time.Duration
	BatchSize     int
	// LockTTL bounds how long a crashed instance can block other sweeps.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		SweepInterval: time.Hour,
		SweepTimeout:  50 * time.Minute,
		BatchSize:     100,
		LockTTL:       55 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:       cfg.Scheduler.Enabled,
		SweepInterval: cfg.Scheduler.SweepInterval,
		SweepTimeout:  cfg.Scheduler.SweepTimeout,
		BatchSize:     cfg.Scheduler.BatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.SweepTimeout + 5*time.Minute
	}
	return c
}
