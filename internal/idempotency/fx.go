package idempotency

import (
	"github.com/smallbiznis/railzway-reports/internal/idempotency/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency",
	fx.Provide(repository.NewWebhookLedger),
	fx.Provide(repository.NewReportLedger),
)
