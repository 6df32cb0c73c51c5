package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	"github.com/smallbiznis/railzway-reports/internal/idempotency"
	"github.com/smallbiznis/railzway-reports/internal/migration"
	"github.com/smallbiznis/railzway-reports/internal/notify"
	"github.com/smallbiznis/railzway-reports/internal/observability"
	"github.com/smallbiznis/railzway-reports/internal/providers"
	"github.com/smallbiznis/railzway-reports/internal/redisclient"
	"github.com/smallbiznis/railzway-reports/internal/report"
	"github.com/smallbiznis/railzway-reports/internal/server"
	"github.com/smallbiznis/railzway-reports/internal/subscription"
	"github.com/smallbiznis/railzway-reports/internal/webhook"
	"github.com/smallbiznis/railzway-reports/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,

		// Webhook ingress and on-demand reports
		idempotency.Module,
		subscription.Module,
		webhook.Module,
		providers.Module,
		notify.Module,
		report.Module,

		// No scheduler module!
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
