package webhook

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	idempotencydomain "github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/lease"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"github.com/smallbiznis/railzway-reports/internal/webhook/adapters"
	"github.com/smallbiznis/railzway-reports/internal/webhook/adapters/stripe"
	"github.com/smallbiznis/railzway-reports/internal/webhook/domain"
	"github.com/smallbiznis/railzway-reports/internal/webhook/schema"
	"github.com/smallbiznis/railzway-reports/internal/webhook/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("webhook.service",
	fx.Provide(provideRegistry),
	fx.Provide(schema.NewValidator),
	fx.Provide(provideGuard),
	fx.Provide(service.NewService),
)

type guardParams struct {
	fx.In

	Ledger  idempotencydomain.WebhookLedger
	Clock   clock.Clock
	Log     *zap.Logger
	Cfg     config.Config
	Redis   *redis.Client             `optional:"true"`
	Metrics *obsmetrics.LedgerMetrics `optional:"true"`
}

func provideGuard(p guardParams) *guard.WebhookGuard {
	opts := []guard.WebhookOption{guard.WithWebhookMetrics(p.Metrics)}
	if p.Cfg.LeaseEnabled() {
		if locker := lease.NewLocker(p.Redis); locker != nil {
			opts = append(opts, guard.WithLease(locker, p.Cfg.Webhook.LeaseTTL))
		} else {
			p.Log.Warn("webhook lease requested but redis is not configured")
		}
	}
	return guard.NewWebhookGuard(p.Ledger, p.Clock, p.Log, opts...)
}

func provideRegistry(cfg config.Config, clk clock.Clock, log *zap.Logger) *adapters.Registry {
	var registered []domain.Adapter
	if adapter, err := stripe.NewAdapter(cfg.Webhook.StripeSecret, clk); err == nil {
		registered = append(registered, adapter)
	} else {
		log.Warn("stripe webhooks disabled", zap.Error(err))
	}
	return adapters.NewRegistry(registered...)
}
