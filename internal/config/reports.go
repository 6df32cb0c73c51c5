package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReportSchedule describes one report kind produced by the scheduler.
type ReportSchedule struct {
	Kind       string `mapstructure:"kind"`
	PeriodDays int    `mapstructure:"periodDays"`
}

// ReportConfig is the hot-reloadable part of report scheduling.
type ReportConfig struct {
	Schedules     []ReportSchedule `mapstructure:"schedules"`
	RunInterval   time.Duration    `mapstructure:"runInterval"`
	RecoveryAfter time.Duration    `mapstructure:"recoveryAfter"`
	BatchSize     int              `mapstructure:"batchSize"`
	MaxAttempts   int              `mapstructure:"maxAttempts"`
}

func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		Schedules: []ReportSchedule{
			{Kind: "weekly", PeriodDays: 7},
		},
		RunInterval:   time.Hour,
		RecoveryAfter: 30 * time.Minute,
		BatchSize:     100,
		MaxAttempts:   5,
	}
}

type ReportConfigHolder struct {
	current atomic.Value // holds ReportConfig
}

// NewStaticReportConfigHolder returns a holder that never reloads.
func NewStaticReportConfigHolder(cfg ReportConfig) *ReportConfigHolder {
	holder := &ReportConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReportConfigHolder() (*ReportConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("reports")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/railzway/config")
	v.AddConfigPath("/etc/railzway")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RAILZWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReportConfig()
	v.SetDefault("reports.runInterval", defaults.RunInterval)
	v.SetDefault("reports.recoveryAfter", defaults.RecoveryAfter)
	v.SetDefault("reports.batchSize", defaults.BatchSize)
	v.SetDefault("reports.maxAttempts", defaults.MaxAttempts)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("reports.schedules", defaults.Schedules)
	}

	var cfg ReportConfig
	if err := v.UnmarshalKey("reports", &cfg); err != nil {
		return nil, err
	}
	if err := validateReportConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReportConfigHolder(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReportConfig
		if err := v.UnmarshalKey("reports", &updated); err != nil {
			log.Printf("[report-config] reload failed: %v", err)
			return
		}
		if err := validateReportConfig(updated); err != nil {
			log.Printf("[report-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[report-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ReportConfigHolder) Get() ReportConfig {
	return h.current.Load().(ReportConfig)
}

func validateReportConfig(cfg ReportConfig) error {
	if len(cfg.Schedules) == 0 {
		return errors.New("reports.schedules cannot be empty")
	}
	for _, s := range cfg.Schedules {
		if strings.TrimSpace(s.Kind) == "" {
			return errors.New("reports.schedules.kind is required")
		}
		if s.PeriodDays <= 0 {
			return fmt.Errorf("reports.schedules[%s].periodDays must be positive", s.Kind)
		}
	}
	if cfg.RunInterval <= 0 {
		return errors.New("reports.runInterval must be positive")
	}
	if cfg.RecoveryAfter <= 0 {
		return errors.New("reports.recoveryAfter must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return errors.New("reports.maxAttempts must be positive")
	}
	return nil
}
