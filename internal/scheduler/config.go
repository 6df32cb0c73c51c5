package scheduler

import (
	"time"
)

// Config controls per-job timeouts. Intervals, thresholds and batch sizes
// come from the hot-reloaded report config.
type Config struct {
	ScheduleTimeout time.Duration
	RecoveryTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScheduleTimeout: 10 * time.Minute,
		RecoveryTimeout: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ScheduleTimeout <= 0 {
		c.ScheduleTimeout = defaults.ScheduleTimeout
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = defaults.RecoveryTimeout
	}
	return c
}

// windowAnchor is a Monday, so seven day windows close on Mondays.
var windowAnchor = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)

// dueWindowEnd returns the end of the most recently closed window of
// periodDays days. It is stable for the whole window, so repeated runs
// address the same reports.
func dueWindowEnd(now time.Time, periodDays int) time.Time {
	if periodDays <= 0 {
		periodDays = 1
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	elapsed := int(day.Sub(windowAnchor).Hours() / 24)
	return windowAnchor.AddDate(0, 0, elapsed-elapsed%periodDays)
}
