package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/railzway-reports/internal/cache"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/dbtest"
	idempotencydomain "github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	ledgerrepository "github.com/smallbiznis/railzway-reports/internal/idempotency/repository"
	"github.com/smallbiznis/railzway-reports/internal/notify"
	"github.com/smallbiznis/railzway-reports/internal/notify/mocks"
	"github.com/smallbiznis/railzway-reports/internal/providers/pdf"
	"github.com/smallbiznis/railzway-reports/internal/report/artifact"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	"github.com/smallbiznis/railzway-reports/internal/report/repository"
	subscriptionrepository "github.com/smallbiznis/railzway-reports/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/railzway-reports/internal/subscription/service"
	"github.com/smallbiznis/railzway-reports/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

type fakeRenderer struct {
	mu    sync.Mutex
	calls []pdf.ReportData
	err   error
}

func (r *fakeRenderer) RenderReport(_ context.Context, data pdf.ReportData) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-1.4 " + data.UserName), nil
}

type harness struct {
	svc        reportdomain.Service
	db         *gorm.DB
	clock      *clock.FakeClock
	renderer   *fakeRenderer
	dispatcher *mocks.MockDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFakeClock(testNow)
	log := zaptest.NewLogger(t)
	node := dbtest.Node(t)
	ctrl := gomock.NewController(t)

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  subscriptionrepository.Provide(),
		Cache: cache.NewSubscriptionStatusCache(),
	})

	h := &harness{
		db:         db,
		clock:      clk,
		renderer:   &fakeRenderer{},
		dispatcher: mocks.NewMockDispatcher(ctrl),
	}
	h.svc = NewService(Params{
		DB:            db,
		Log:           log,
		Clock:         clk,
		Repo:          repository.Provide(),
		Guard:         guard.NewReportGuard(ledgerrepository.NewReportLedger(db), clk, node, log),
		Artifacts:     artifact.NewDBStore(db, clk),
		Renderer:      h.renderer,
		Dispatcher:    h.dispatcher,
		Subscriptions: subs,
	})

	dbtest.SeedUser(t, db, "user_1", "jane@example.com", "Jane Doe")
	dbtest.SeedSubscription(t, db, 1, "user_1", "sub_1", "pro", "active")
	return h
}

func weekly(userID string) reportdomain.GenerateRequest {
	return reportdomain.GenerateRequest{
		UserID:      userID,
		PeriodStart: "2024-01-01",
		PeriodEnd:   "2024-01-07",
	}
}

func TestGenerateSendsOneNotification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.dispatcher.EXPECT().
		DispatchReport(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n notify.ReportNotification) (string, error) {
			assert.Equal(t, "jane@example.com", n.Recipient.Email)
			assert.Equal(t, "weekly", n.ReportKind)
			assert.NotEmpty(t, n.Artifact)
			return "msg-1", nil
		}).
		Times(1)

	first, err := h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)
	assert.False(t, first.Existing)
	assert.Equal(t, reportdomain.ReportStatusGenerated, first.Report.Status)
	require.NotNil(t, first.Report.NotificationID)
	assert.Equal(t, "msg-1", *first.Report.NotificationID)

	second, err := h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Report.ID, second.Report.ID)

	assert.Len(t, h.renderer.calls, 1)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", ""))
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "report_artifacts", ""))
}

func TestGenerateRetriesFailedReportInPlace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	gomock.InOrder(
		h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("", errors.New("smtp down")),
		h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg-2", nil),
	)

	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, idempotencydomain.ErrEffectFailed)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", "status = ? AND last_error LIKE ?", "failed", "%smtp down%"))

	res, err := h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)
	assert.Equal(t, reportdomain.ReportStatusGenerated, res.Report.Status)
	assert.Equal(t, 2, res.Report.Attempts)
	assert.Nil(t, res.Report.LastError)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", ""))
}

func TestGenerateRejectsBeforeLedger(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedUser(t, h.db, "user_2", "bob@example.com", "")
	dbtest.SeedOrganization(t, h.db, "org_2", "Bob Inc", "user_2")

	_, err := h.svc.Generate(ctx, weekly("ghost"))
	assert.ErrorIs(t, err, reportdomain.ErrUserNotFound)

	req := weekly("user_1")
	org := "org_2"
	req.OrganizationID = &org
	_, err = h.svc.Generate(ctx, req)
	assert.ErrorIs(t, err, reportdomain.ErrOrganizationNotFound)

	req = weekly("user_1")
	req.PeriodEnd = "2023-12-31"
	_, err = h.svc.Generate(ctx, req)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidPeriod)

	req = weekly("user_1")
	req.PeriodStart = "last week"
	_, err = h.svc.Generate(ctx, req)
	assert.ErrorIs(t, err, reportdomain.ErrInvalidPeriod)

	_, err = h.svc.Generate(ctx, weekly(" "))
	assert.ErrorIs(t, err, reportdomain.ErrInvalidRequest)
	assert.ErrorIs(t, err, idempotencydomain.ErrInvalidTrigger)

	assert.Equal(t, int64(0), dbtest.Count(t, h.db, "auto_reports", ""))
}

func TestGenerateScopeProducesSeparateReports(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedOrganization(t, h.db, "org_1", "Acme", "user_1")

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil).Times(2)

	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)

	req := weekly("user_1")
	org := "org_1"
	req.OrganizationID = &org
	res, err := h.svc.Generate(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Report.OrganizationID)
	assert.Equal(t, "org_1", *res.Report.OrganizationID)

	require.Len(t, h.renderer.calls, 2)
	assert.Equal(t, "Personal", h.renderer.calls[0].OrganizationName)
	assert.Equal(t, "Acme", h.renderer.calls[1].OrganizationName)
	assert.Equal(t, int64(2), dbtest.Count(t, h.db, "auto_reports", ""))
}

func TestGenerateRendersSubscriptionAndActivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	dbtest.SeedWebhookEvent(t, h.db, 10, "evt_1", "customer.subscription.updated", "sub_1", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	dbtest.SeedWebhookEvent(t, h.db, 11, "evt_2", "invoice.payment_succeeded", "sub_1", time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC))
	dbtest.SeedWebhookEvent(t, h.db, 12, "evt_3", "invoice.payment_failed", "sub_1", time.Date(2024, 1, 8, 1, 0, 0, 0, time.UTC))
	dbtest.SeedWebhookEvent(t, h.db, 13, "evt_4", "invoice.payment_failed", "sub_other", time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC))

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)

	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)

	require.Len(t, h.renderer.calls, 1)
	data := h.renderer.calls[0]
	assert.Equal(t, "Weekly Report", data.Title)
	assert.Equal(t, "Jane Doe", data.UserName)
	assert.Equal(t, "pro", data.PlanID)
	assert.Equal(t, "active", data.Status)
	assert.Equal(t, "2024-01-08", data.GeneratedOn)
	assert.Equal(t, []pdf.Metric{
		{Label: "Subscription changes", Value: "1"},
		{Label: "Payments succeeded", Value: "1"},
		{Label: "Payments failed", Value: "0"},
		{Label: "Provider events", Value: "2"},
	}, data.Metrics)
}

func TestGenerateWithoutActiveSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedUser(t, h.db, "user_2", "bob@example.com", "")

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)

	_, err := h.svc.Generate(ctx, weekly("user_2"))
	require.NoError(t, err)

	data := h.renderer.calls[0]
	assert.Equal(t, "bob@example.com", data.UserName)
	assert.Equal(t, "No active plan", data.PlanID)
	assert.Equal(t, "inactive", data.Status)
}

func TestGenerateRendersTrialingSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedUser(t, h.db, "user_2", "bob@example.com", "Bob")
	dbtest.SeedSubscription(t, h.db, 2, "user_2", "sub_2", "basic", "trialing")

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)

	_, err := h.svc.Generate(ctx, weekly("user_2"))
	require.NoError(t, err)

	require.Len(t, h.renderer.calls, 1)
	assert.Equal(t, "basic", h.renderer.calls[0].PlanID)
	assert.Equal(t, "trialing", h.renderer.calls[0].Status)
}

func TestDownload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedUser(t, h.db, "user_2", "bob@example.com", "")

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("", errors.New("smtp down"))
	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)

	list, err := h.svc.List(ctx, reportdomain.ListRequest{UserID: "user_1"})
	require.NoError(t, err)
	require.Len(t, list.Reports, 1)
	id := list.Reports[0].ID.String()

	_, err = h.svc.Download(ctx, "user_1", id)
	assert.ErrorIs(t, err, reportdomain.ErrReportNotReady)

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)
	_, err = h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)

	dl, err := h.svc.Download(ctx, "user_1", id)
	require.NoError(t, err)
	assert.Equal(t, "report-"+id+".pdf", dl.FileName)
	assert.Equal(t, "application/pdf", dl.ContentType)
	assert.Equal(t, []byte("%PDF-1.4 Jane Doe"), dl.Content)

	_, err = h.svc.Download(ctx, "user_2", id)
	assert.ErrorIs(t, err, reportdomain.ErrReportNotFound)

	_, err = h.svc.Download(ctx, "user_1", "not-a-number")
	assert.ErrorIs(t, err, reportdomain.ErrInvalidReportID)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil).Times(3)
	for _, start := range []string{"2024-01-01", "2024-01-08", "2024-01-15"} {
		req := weekly("user_1")
		req.PeriodStart = start
		req.PeriodEnd = start
		_, err := h.svc.Generate(ctx, req)
		require.NoError(t, err)
	}

	page, err := h.svc.List(ctx, reportdomain.ListRequest{
		UserID:     "user_1",
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Reports, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, "2024-01-15", page.Reports[0].PeriodStart)

	next, err := h.svc.List(ctx, reportdomain.ListRequest{
		UserID:     "user_1",
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, next.Reports, 1)
	assert.False(t, next.PageInfo.HasMore)
	assert.Equal(t, "2024-01-01", next.Reports[0].PeriodStart)

	other, err := h.svc.List(ctx, reportdomain.ListRequest{UserID: "user_2"})
	require.NoError(t, err)
	assert.Empty(t, other.Reports)

	_, err = h.svc.List(ctx, reportdomain.ListRequest{
		UserID:     "user_1",
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestScheduleDueGeneratesOncePerSubscriber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedUser(t, h.db, "user_2", "bob@example.com", "Bob")
	dbtest.SeedSubscription(t, h.db, 2, "user_2", "sub_2", "basic", "trialing")
	dbtest.SeedUser(t, h.db, "user_3", "carol@example.com", "Carol")
	dbtest.SeedSubscription(t, h.db, 3, "user_3", "sub_3", "basic", "canceled")

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil).Times(2)

	res, err := h.svc.ScheduleDue(ctx, reportdomain.ScheduleRequest{})
	require.NoError(t, err)
	assert.Equal(t, reportdomain.Period{Start: "2024-01-01", End: "2024-01-07"}, res.Period)
	require.Len(t, res.Results, 2)
	for _, r := range res.Results {
		assert.True(t, r.Success, r.Error)
		assert.NotEmpty(t, r.ReportID)
	}
	assert.Equal(t, "Processed 2 users", res.Message)

	again, err := h.svc.ScheduleDue(ctx, reportdomain.ScheduleRequest{ReportType: "weekly", PeriodDays: 7})
	require.NoError(t, err)
	require.Len(t, again.Results, 2)
	assert.Equal(t, int64(2), dbtest.Count(t, h.db, "auto_reports", "status = ?", "generated"))
}

func TestScheduleDueUsesAsOf(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil).Times(1)

	res, err := h.svc.ScheduleDue(ctx, reportdomain.ScheduleRequest{
		PeriodDays: 7,
		AsOf:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, reportdomain.Period{Start: "2023-12-25", End: "2023-12-31"}, res.Period)
}

func TestScheduleDueConsecutiveWindowsDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	dbtest.SeedWebhookEvent(t, h.db, 10, "evt_1", "invoice.payment_succeeded", "sub_1", time.Date(2024, 1, 8, 1, 0, 0, 0, time.UTC))

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil).Times(2)

	first, err := h.svc.ScheduleDue(ctx, reportdomain.ScheduleRequest{PeriodDays: 7, AsOf: testNow})
	require.NoError(t, err)
	second, err := h.svc.ScheduleDue(ctx, reportdomain.ScheduleRequest{PeriodDays: 7, AsOf: testNow.AddDate(0, 0, 7)})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.Period{Start: "2024-01-01", End: "2024-01-07"}, first.Period)
	assert.Equal(t, reportdomain.Period{Start: "2024-01-08", End: "2024-01-14"}, second.Period)

	// An event on the boundary day lands in exactly one report.
	require.Len(t, h.renderer.calls, 2)
	assert.Contains(t, h.renderer.calls[0].Metrics, pdf.Metric{Label: "Provider events", Value: "0"})
	assert.Contains(t, h.renderer.calls[1].Metrics, pdf.Metric{Label: "Provider events", Value: "1"})
	assert.Equal(t, int64(2), dbtest.Count(t, h.db, "auto_reports", "status = ?", "generated"))
}

func TestRecoverRetriesStaleReports(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("", errors.New("brevo 500"))
	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)

	res, err := h.svc.Recover(ctx, reportdomain.RecoverRequest{StaleAfter: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)

	h.clock.Advance(time.Hour)
	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)

	res, err = h.svc.Recover(ctx, reportdomain.RecoverRequest{StaleAfter: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, &reportdomain.RecoverResult{Scanned: 1, Generated: 1}, res)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", "status = ? AND attempts = ?", "generated", 2))
}

func TestRecoverLeavesExhaustedReportsAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("", errors.New("brevo 500")).Times(2)
	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)
	h.clock.Advance(time.Hour)

	res, err := h.svc.Recover(ctx, reportdomain.RecoverRequest{StaleAfter: 30 * time.Minute, MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, &reportdomain.RecoverResult{Scanned: 1, Failed: 1}, res)
	h.clock.Advance(time.Hour)

	res, err = h.svc.Recover(ctx, reportdomain.RecoverRequest{StaleAfter: 30 * time.Minute, MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, &reportdomain.RecoverResult{}, res)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", "status = ? AND attempts = ?", "failed", 2))

	// an explicit request still retries it
	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)
	_, err = h.svc.Generate(ctx, weekly("user_1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), dbtest.Count(t, h.db, "auto_reports", "status = ? AND attempts = ?", "generated", 3))
}

func TestRecoverTakesOverAbandonedPendingReport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.renderer.err = context.DeadlineExceeded
	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)
	h.renderer.err = nil

	// Simulate a crash mid-attempt: the row is left pending.
	require.NoError(t, h.db.Exec(`UPDATE auto_reports SET status = 'pending'`).Error)
	_, err = dbtest.NewAccelerator(h.db).SetReportsUpdatedAt(ctx, "pending", testNow.Add(-2*time.Hour))
	require.NoError(t, err)

	h.dispatcher.EXPECT().DispatchReport(gomock.Any(), gomock.Any()).Return("msg", nil)
	res, err := h.svc.Recover(ctx, reportdomain.RecoverRequest{StaleAfter: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
}

func TestGenerateFreshPendingIsInProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.renderer.err = errors.New("boom")
	_, err := h.svc.Generate(ctx, weekly("user_1"))
	require.Error(t, err)
	h.renderer.err = nil
	require.NoError(t, h.db.Exec(`UPDATE auto_reports SET status = 'pending'`).Error)

	_, err = h.svc.Generate(ctx, weekly("user_1"))
	assert.ErrorIs(t, err, reportdomain.ErrReportInProgress)
	assert.ErrorIs(t, err, idempotencydomain.ErrInFlight)
}
