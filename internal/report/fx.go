package report

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	idempotencydomain "github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"github.com/smallbiznis/railzway-reports/internal/report/artifact"
	"github.com/smallbiznis/railzway-reports/internal/report/repository"
	"github.com/smallbiznis/railzway-reports/internal/report/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("report.service",
	artifact.Module,
	fx.Provide(repository.Provide),
	fx.Provide(provideGuard),
	fx.Provide(service.NewService),
)

type guardParams struct {
	fx.In

	Ledger  idempotencydomain.ReportLedger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Log     *zap.Logger
	Metrics *obsmetrics.LedgerMetrics `optional:"true"`
}

func provideGuard(p guardParams) *guard.ReportGuard {
	return guard.NewReportGuard(p.Ledger, p.Clock, p.GenID, p.Log, guard.WithReportMetrics(p.Metrics))
}
