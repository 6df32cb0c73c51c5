package scheduler

import (
	"context"

	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"go.uber.org/zap"
)

// RecoverySweepJob retries reports left pending or failed past the
// configured threshold.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cfg := s.reportCfg.Get()

	res, err := s.reports.Recover(ctx, reportdomain.RecoverRequest{
		StaleAfter:  cfg.RecoveryAfter,
		MaxAttempts: cfg.MaxAttempts,
		Limit:       cfg.BatchSize,
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reports.recovery_failed", err)
		return err
	}

	run.AddProcessed(res.Scanned)
	run.AddErrors(res.Failed)
	s.metrics.AddBatchProcessed(jobReportRecovery, resourceReports, res.Scanned)

	if res.Scanned > 0 {
		s.logger(ctx).Info("scheduler.reports.recovered",
			zap.Int("scanned", res.Scanned),
			zap.Int("generated", res.Generated),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	}
	return nil
}
