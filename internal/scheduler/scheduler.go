package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const (
	jobReportSchedule = "report_schedule"
	jobReportRecovery = "report_recovery"

	resourceReports = "reports"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Reports      reportdomain.Service
	ReportConfig *config.ReportConfigHolder
	GenID        *snowflake.Node
	Clock        clock.Clock
	Metrics      *obsmetrics.LedgerMetrics `optional:"true"`
	Config       Config                    `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	reportCfg *config.ReportConfigHolder
	genID     *snowflake.Node
	clock     clock.Clock
	reports   reportdomain.Service
	metrics   *obsmetrics.LedgerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Reports == nil || p.ReportConfig == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		reportCfg: p.ReportConfig,
		genID:     p.GenID,
		clock:     p.Clock,
		reports:   p.Reports,
		metrics:   p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	reportType string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, reportType, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(run.fields()...)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errors == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout, the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every configured report schedule and then the recovery sweep.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	cfg := s.reportCfg.Get()

	for _, schedule := range cfg.Schedules {
		err = errors.Join(err, s.runJob(parent, jobReportSchedule, schedule.Kind, cfg.BatchSize, s.cfg.ScheduleTimeout, func(ctx context.Context) error {
			return s.ScheduleReportsJob(ctx, schedule)
		}))
	}

	err = errors.Join(err, s.runJob(parent, jobReportRecovery, "", cfg.BatchSize, s.cfg.RecoveryTimeout, s.RecoverySweepJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		// interval is re-read each tick so config reloads apply
		timer := time.NewTimer(s.reportCfg.Get().RunInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ScheduleReportsJob generates the reports of the last closed window of
// schedule for every subscriber. Reports already generated are skipped by
// the ledger.
func (s *Scheduler) ScheduleReportsJob(ctx context.Context, schedule config.ReportSchedule) error {
	run := jobRunFromContext(ctx)
	asOf := dueWindowEnd(s.clock.Now(), schedule.PeriodDays)

	res, err := s.reports.ScheduleDue(ctx, reportdomain.ScheduleRequest{
		ReportType: schedule.Kind,
		PeriodDays: schedule.PeriodDays,
		AsOf:       asOf,
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reports.schedule_failed", err)
		return err
	}

	failed := s.logReportFailures(ctx, run, res.Results)
	run.AddProcessed(len(res.Results))
	s.metrics.AddBatchProcessed(jobReportSchedule, resourceReports, len(res.Results))

	s.logger(ctx).Info("scheduler.reports.scheduled",
		zap.String("report_type", schedule.Kind),
		zap.String("period_start", res.Period.Start),
		zap.String("period_end", res.Period.End),
		zap.Int("users", len(res.Results)),
		zap.Int("failed", failed),
	)
	return nil
}
