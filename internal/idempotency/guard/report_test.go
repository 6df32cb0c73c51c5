package guard_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/dbtest"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/dedup"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/memory"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var reportNow = time.Date(2024, 1, 8, 2, 0, 0, 0, time.UTC)

func weeklyTrigger(subject string) domain.ReportTrigger {
	return domain.ReportTrigger{
		SubjectID:   subject,
		Kind:        "weekly",
		PeriodStart: "2024-01-01",
		PeriodEnd:   "2024-01-07",
	}
}

func newReportGuard(t *testing.T, ledger domain.ReportLedger, clk clock.Clock, opts ...guard.ReportOption) *guard.ReportGuard {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return guard.NewReportGuard(ledger, clk, node, zaptest.NewLogger(t), opts...)
}

func okEffect(calls *atomic.Int32) func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
	return func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		calls.Add(1)
		return guard.Outcome{ArtifactRef: "db:artifact", NotificationID: "msg-1"}, nil
	}
}

func TestReportGuardGeneratesOnce(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	var calls atomic.Int32
	entry, decision, err := g.Run(ctx, weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionProceed, decision)
	require.NotNil(t, entry)
	assert.Equal(t, domain.ReportStatusGenerated, entry.Status)
	assert.Equal(t, "db:artifact", *entry.ArtifactRef)
	assert.Equal(t, "msg-1", *entry.NotificationID)
	assert.Equal(t, reportNow, *entry.GeneratedAt)

	again, decision, err := g.Run(ctx, weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, decision)
	assert.Equal(t, entry.ID, again.ID)

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, ledger.Entries(), 1)
}

func TestReportGuardScopeSeparatesKeys(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	org := "org_1"
	scoped := weeklyTrigger("u1")
	scoped.ScopeID = &org

	var calls atomic.Int32
	_, _, err := g.Run(ctx, weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	_, _, err = g.Run(ctx, scoped, okEffect(&calls))
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, ledger.Entries(), 2)
}

func TestReportGuardConcurrentTriggersDispatchOnce(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	var calls atomic.Int32
	release := make(chan struct{})
	effect := func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		calls.Add(1)
		<-release
		return guard.Outcome{ArtifactRef: "db:artifact"}, nil
	}

	const n = 8
	decisions := make([]domain.Decision, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			_, decisions[i], errs[i] = g.Run(ctx, weeklyTrigger("u1"), effect)
		}(i)
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	var proceeded int
	for i := 0; i < n; i++ {
		switch decisions[i] {
		case domain.DecisionProceed:
			proceeded++
			assert.NoError(t, errs[i])
		case domain.DecisionInFlight:
			assert.ErrorIs(t, errs[i], domain.ErrInFlight)
		case domain.DecisionSkip:
			assert.NoError(t, errs[i])
		default:
			t.Fatalf("unexpected decision %q", decisions[i])
		}
	}
	assert.Equal(t, 1, proceeded)
	assert.Len(t, ledger.Entries(), 1)
}

func TestReportGuardRetriesFailedRowInPlace(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	clk := clock.NewFakeClock(reportNow)
	g := newReportGuard(t, ledger, clk)

	boom := errors.New("smtp: 421 service not available")
	_, decision, err := g.Run(ctx, weeklyTrigger("u1"), func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		return guard.Outcome{}, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEffectFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.DecisionProceed, decision)

	entries := ledger.Entries()
	require.Len(t, entries, 1)
	failed := entries[0]
	assert.Equal(t, domain.ReportStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "421")

	clk.Advance(time.Hour)
	var calls atomic.Int32
	entry, decision, err := g.Run(ctx, weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionResume, decision)
	assert.Equal(t, failed.ID, entry.ID)
	assert.Equal(t, domain.ReportStatusGenerated, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
	assert.Nil(t, entry.LastError)
	assert.Len(t, ledger.Entries(), 1)
}

func TestReportGuardFreshPendingIsInFlight(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	clk := clock.NewFakeClock(reportNow)
	g := newReportGuard(t, ledger, clk)

	ticket, err := g.Begin(ctx, weeklyTrigger("u1"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionProceed, ticket.Decision)

	clk.Advance(time.Minute)
	other, err := g.Begin(ctx, weeklyTrigger("u1"))
	assert.ErrorIs(t, err, domain.ErrInFlight)
	assert.Equal(t, domain.DecisionInFlight, other.Decision)

	clk.Advance(guard.DefaultPendingStaleAfter)
	taken, err := g.Begin(ctx, weeklyTrigger("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionResume, taken.Decision)
	assert.Equal(t, 2, taken.Entry.Attempts)

	// The first commit wins; the later one observes the stored row.
	entry, err := g.Complete(ctx, ticket, guard.Outcome{ArtifactRef: "db:late"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusGenerated, entry.Status)

	_, err = g.Complete(ctx, taken, guard.Outcome{ArtifactRef: "db:second"})
	require.NoError(t, err)
	stored := ledger.Entries()[0]
	assert.Equal(t, "db:late", *stored.ArtifactRef)
}

func TestReportGuardZeroStaleAfterAllowsTakeover(t *testing.T) {
	ctx := context.Background()
	g := newReportGuard(t, memory.NewReportLedger(), clock.NewFakeClock(reportNow), guard.WithPendingStaleAfter(0))

	_, err := g.Begin(ctx, weeklyTrigger("u1"))
	require.NoError(t, err)

	ticket, err := g.Begin(ctx, weeklyTrigger("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionResume, ticket.Decision)
}

func TestReportGuardGeneratedIsTerminal(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	ticket, err := g.Begin(ctx, weeklyTrigger("u1"))
	require.NoError(t, err)
	_, err = g.Complete(ctx, ticket, guard.Outcome{ArtifactRef: "db:a"})
	require.NoError(t, err)

	require.NoError(t, g.Fail(ctx, ticket, errors.New("late failure")))
	stored := ledger.Entries()[0]
	assert.Equal(t, domain.ReportStatusGenerated, stored.Status)
	assert.Nil(t, stored.LastError)
}

func TestReportGuardTruncatesLastError(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewReportLedger()
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	long := errors.New(strings.Repeat("x", 4096))
	_, _, err := g.Run(ctx, weeklyTrigger("u1"), func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		return guard.Outcome{}, long
	})
	require.Error(t, err)
	assert.Len(t, *ledger.Entries()[0].LastError, 1024)
}

func TestReportGuardLedgerUnavailableWritesNothing(t *testing.T) {
	ledger := memory.NewReportLedger()
	ledger.FailNext = errors.New("connection reset")
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	var calls atomic.Int32
	_, _, err := g.Run(context.Background(), weeklyTrigger("u1"), okEffect(&calls))
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Zero(t, calls.Load())
	assert.Empty(t, ledger.Entries())
}

func TestReportGuardInvalidTrigger(t *testing.T) {
	g := newReportGuard(t, memory.NewReportLedger(), clock.NewFakeClock(reportNow))
	blank := " "
	trigger := weeklyTrigger("u1")
	trigger.ScopeID = &blank

	_, _, err := g.Run(context.Background(), trigger, func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		t.Fatal("effect must not run")
		return guard.Outcome{}, nil
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)
}

func TestReportGuardOnSQLLedger(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	ledger := repository.NewReportLedger(conn)
	clk := clock.NewFakeClock(reportNow)
	g := newReportGuard(t, ledger, clk)

	_, _, err := g.Run(ctx, weeklyTrigger("u1"), func(context.Context, *domain.ReportEntry) (guard.Outcome, error) {
		return guard.Outcome{}, errors.New("render failed")
	})
	require.ErrorIs(t, err, domain.ErrEffectFailed)

	var calls atomic.Int32
	entry, decision, err := g.Run(ctx, weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionResume, decision)
	assert.Equal(t, 2, entry.Attempts)

	key, err := dedup.ReportKey(weeklyTrigger("u1"))
	require.NoError(t, err)
	stored, err := ledger.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusGenerated, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Equal(t, int64(1), dbtest.Count(t, conn, "auto_reports", ""))
}

func TestReportGuardCommitsAfterCallerCancels(t *testing.T) {
	conn := dbtest.Open(t)
	ledger := repository.NewReportLedger(conn)
	g := newReportGuard(t, ledger, clock.NewFakeClock(reportNow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	entry, decision, err := g.Run(ctx, weeklyTrigger("u1"), func(c context.Context, e *domain.ReportEntry) (guard.Outcome, error) {
		// the request is abandoned after the notification went out
		cancel()
		return okEffect(&calls)(c, e)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionProceed, decision)
	assert.Equal(t, domain.ReportStatusGenerated, entry.Status)

	key, err := dedup.ReportKey(weeklyTrigger("u1"))
	require.NoError(t, err)
	stored, err := ledger.FindByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusGenerated, stored.Status)
	assert.Equal(t, "msg-1", *stored.NotificationID)

	_, decision, err = g.Run(context.Background(), weeklyTrigger("u1"), okEffect(&calls))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, decision)
	assert.Equal(t, int32(1), calls.Load())
}
