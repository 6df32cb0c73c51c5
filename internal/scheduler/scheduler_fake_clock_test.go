package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/smallbiznis/railzway-reports/internal/dbtest"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeReports struct {
	reportdomain.Service

	mu         sync.Mutex
	schedules  []reportdomain.ScheduleRequest
	recoveries []reportdomain.RecoverRequest
	recoverErr error
}

func (f *fakeReports) ScheduleDue(_ context.Context, req reportdomain.ScheduleRequest) (*reportdomain.ScheduleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules = append(f.schedules, req)
	return &reportdomain.ScheduleResponse{
		Results: []reportdomain.ScheduleResult{
			{UserID: "user_1", Success: true, ReportID: "1"},
			{UserID: "user_2", Error: "boom"},
		},
		Period: reportdomain.Period{
			Start: req.AsOf.AddDate(0, 0, -req.PeriodDays).Format(reportdomain.PeriodLayout),
			End:   req.AsOf.Format(reportdomain.PeriodLayout),
		},
	}, nil
}

func (f *fakeReports) Recover(_ context.Context, req reportdomain.RecoverRequest) (*reportdomain.RecoverResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, req)
	if f.recoverErr != nil {
		return nil, f.recoverErr
	}
	return &reportdomain.RecoverResult{}, nil
}

func newTestScheduler(t *testing.T, clk clock.Clock, reports reportdomain.Service, cfg config.ReportConfig) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:          zaptest.NewLogger(t),
		Reports:      reports,
		ReportConfig: config.NewStaticReportConfigHolder(cfg),
		GenID:        dbtest.Node(t),
		Clock:        clk,
	})
	require.NoError(t, err)
	return s
}

func TestScheduler_RunOnce_FakeClock_21Days(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))
	reports := &fakeReports{}

	cfg := config.DefaultReportConfig()
	cfg.RecoveryAfter = 45 * time.Minute
	cfg.BatchSize = 25
	cfg.MaxAttempts = 3
	s := newTestScheduler(t, clk, reports, cfg)

	for i := 0; i < 21*24; i++ {
		require.NoError(t, s.RunOnce(ctx))
		clk.Advance(time.Hour)
	}

	windows := map[string]int{}
	for _, req := range reports.schedules {
		assert.Equal(t, "weekly", req.ReportType)
		assert.Equal(t, 7, req.PeriodDays)
		windows[req.AsOf.Format(reportdomain.PeriodLayout)]++
	}
	assert.Equal(t, map[string]int{
		"2024-01-08": 6*24 + 15,
		"2024-01-15": 7 * 24,
		"2024-01-22": 7 * 24,
		"2024-01-29": 9,
	}, windows)

	require.Len(t, reports.recoveries, 21*24)
	assert.Equal(t, reportdomain.RecoverRequest{StaleAfter: 45 * time.Minute, MaxAttempts: 3, Limit: 25}, reports.recoveries[0])
}

func TestScheduler_RunOnce_EachSchedule(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	reports := &fakeReports{}

	cfg := config.DefaultReportConfig()
	cfg.Schedules = []config.ReportSchedule{
		{Kind: "weekly", PeriodDays: 7},
		{Kind: "daily", PeriodDays: 1},
	}
	s := newTestScheduler(t, clk, reports, cfg)

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, reports.schedules, 2)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), reports.schedules[0].AsOf)
	assert.Equal(t, "daily", reports.schedules[1].ReportType)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), reports.schedules[1].AsOf)
}

func TestScheduler_RunOnce_ReportsRecoveryError(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	reports := &fakeReports{recoverErr: errors.New("db down")}
	s := newTestScheduler(t, clk, reports, config.DefaultReportConfig())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), jobReportRecovery)
	assert.Len(t, reports.schedules, 1)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
