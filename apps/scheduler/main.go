package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/smallbiznis/railzway-reports/internal/idempotency"
	"github.com/smallbiznis/railzway-reports/internal/notify"
	"github.com/smallbiznis/railzway-reports/internal/observability"
	"github.com/smallbiznis/railzway-reports/internal/providers"
	"github.com/smallbiznis/railzway-reports/internal/report"
	"github.com/smallbiznis/railzway-reports/internal/scheduler"
	"github.com/smallbiznis/railzway-reports/internal/subscription"
	"github.com/smallbiznis/railzway-reports/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		idempotency.Module,
		subscription.Module,
		providers.Module,
		notify.Module,
		report.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
