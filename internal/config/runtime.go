package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RuntimeConfig holds operator toggles that can change without a restart.
type RuntimeConfig struct {
	Sweep SweepRuntimeConfig `mapstructure:"sweep"`
}

type SweepRuntimeConfig struct {
	Paused    bool `mapstructure:"paused"`
	BatchSize int  `mapstructure:"batchSize"`
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Sweep: SweepRuntimeConfig{
			Paused:    false,
			BatchSize: 0,
		},
	}
}

type RuntimeConfigHolder struct {
	current atomic.Value // holds RuntimeConfig
}

// NewStaticRuntimeConfigHolder returns a holder that never reloads.
func NewStaticRuntimeConfigHolder(cfg RuntimeConfig) *RuntimeConfigHolder {
	holder := &RuntimeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewRuntimeConfigHolder reads runtime.yml when present and watches it for changes.
func NewRuntimeConfigHolder(log *zap.Logger) (*RuntimeConfigHolder, error) {
	log = log.Named("config.runtime")
	v := viper.New()

	v.SetConfigName("runtime")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/invoicedesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRuntimeConfig()
	v.SetDefault("sweep.paused", defaults.Sweep.Paused)
	v.SetDefault("sweep.batchSize", defaults.Sweep.BatchSize)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticRuntimeConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RuntimeConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("config.runtime.reload_failed", zap.Error(err))
			return
		}
		if err := validateRuntimeConfig(updated); err != nil {
			log.Warn("config.runtime.invalid", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config.runtime.reloaded",
			zap.String("file", e.Name),
			zap.Bool("sweep_paused", updated.Sweep.Paused),
		)
	})

	return holder, nil
}

func (h *RuntimeConfigHolder) Get() RuntimeConfig {
	if h == nil {
		return DefaultRuntimeConfig()
	}
	cfg, ok := h.current.Load().(RuntimeConfig)
	if !ok {
		return DefaultRuntimeConfig()
	}
	return cfg
}

func validateRuntimeConfig(cfg RuntimeConfig) error {
	if cfg.Sweep.BatchSize < 0 {
		return errors.New("sweep.batchSize cannot be negative")
	}
	return nil
}
