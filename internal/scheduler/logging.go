package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/railzway-reports/internal/observability/context"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"go.uber.org/zap"
)

// jobRun accumulates the outcome of one job invocation for the finish log.
type jobRun struct {
	job        string
	runID      string
	reportType string
	batchSize  int
	startedAt  time.Time
	processed  int
	errors     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processed += count
}

func (r *jobRun) AddErrors(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.errors += count
}

func (r *jobRun) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
	}
	if r.reportType != "" {
		fields = append(fields, zap.String("report_type", r.reportType))
	}
	return fields
}

// ensureJobRun attaches a run to ctx unless one is already present. The run
// id doubles as the request id so every report log line of a run correlates.
func (s *Scheduler) ensureJobRun(ctx context.Context, job, reportType string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:        job,
		runID:      s.genID.Generate().String(),
		reportType: reportType,
		batchSize:  batchSize,
		startedAt:  s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeScheduler, job)
	ctx = obscontext.WithRequestID(ctx, run.runID)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start", append(run.fields(), zap.Int("batch_size", run.batchSize))...)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := append(run.fields(),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", run.errors),
	)
	if run.errors > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

// logReportFailures logs each subscriber whose report did not generate and
// returns how many there were.
func (s *Scheduler) logReportFailures(ctx context.Context, run *jobRun, results []reportdomain.ScheduleResult) int {
	failed := 0
	for _, r := range results {
		if r.Success {
			continue
		}
		failed++
		fields := []zap.Field{zap.String("user_id", r.UserID), zap.String("error", r.Error)}
		if run != nil {
			fields = append(run.fields(), fields...)
		}
		s.logger(ctx).Warn("scheduler.report.failed", fields...)
	}
	run.AddErrors(failed)
	return failed
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	base := []zap.Field{
		zap.String("error_type", obsmetrics.ClassifyJobReason(err)),
		zap.Error(err),
	}
	if run != nil {
		run.AddErrors(1)
		base = append(run.fields(), base...)
	}
	s.logger(ctx).Error(msg, append(base, fields...)...)
}
