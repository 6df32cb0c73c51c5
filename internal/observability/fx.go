package observability

import (
	"github.com/smallbiznis/railzway-reports/internal/observability/logger"
	"github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"github.com/smallbiznis/railzway-reports/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the OTel tracer and meter providers, the
// webhook/report counters and the Prometheus ledger metrics.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		func(cfg metrics.Config) *metrics.LedgerMetrics {
			return metrics.LedgerWithConfig(cfg)
		},
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
