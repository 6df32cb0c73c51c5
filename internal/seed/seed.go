package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/config"
	reportdomain "github.com/smallbiznis/railzway-reports/internal/report/domain"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DemoUserID               = "user_demo"
	DemoOrgID                = "org_demo"
	DemoProviderSubscription = "sub_demo"

	demoUserEmail  = "demo@railzway.local"
	demoUserName   = "Demo User"
	demoOrgName    = "Demo Workspace"
	demoCustomerID = "cus_demo"
	demoPlanID     = "plan_demo_monthly"
	demoProvider   = "stripe"
	demoPeriodDays = 30
)

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, db *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) {
		if !cfg.SeedDemoData {
			return
		}
		if cfg.Environment == "production" {
			log.Warn("demo seed disabled in production")
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := EnsureDemoData(ctx, db, node, clk); err != nil {
					return err
				}
				log.Info("demo data seeded",
					zap.String("user_id", DemoUserID),
					zap.String("org_id", DemoOrgID),
				)
				return nil
			},
		})
	}),
)

// EnsureDemoData inserts a demo user, an organization owned by it and an active
// subscription. Rows that already exist are left alone.
func EnsureDemoData(ctx context.Context, db *gorm.DB, node *snowflake.Node, clk clock.Clock) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}

	now := clk.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUserTx(ctx, tx, now); err != nil {
			return err
		}
		if err := ensureOrganizationTx(ctx, tx, now); err != nil {
			return err
		}
		return ensureSubscriptionTx(ctx, tx, node, now)
	})
}

func ensureUserTx(ctx context.Context, tx *gorm.DB, now time.Time) error {
	var user reportdomain.User
	err := tx.WithContext(ctx).Where("id = ?", DemoUserID).First(&user).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.WithContext(ctx).Table("users").Create(map[string]any{
		"id":         DemoUserID,
		"email":      demoUserEmail,
		"full_name":  demoUserName,
		"created_at": now,
		"updated_at": now,
	}).Error
}

func ensureOrganizationTx(ctx context.Context, tx *gorm.DB, now time.Time) error {
	var org reportdomain.Organization
	err := tx.WithContext(ctx).Where("id = ?", DemoOrgID).First(&org).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.WithContext(ctx).Table("organizations").Create(map[string]any{
		"id":         DemoOrgID,
		"name":       demoOrgName,
		"slug":       slug.Make(demoOrgName),
		"owner_id":   DemoUserID,
		"created_at": now,
		"updated_at": now,
	}).Error
}

func ensureSubscriptionTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) error {
	var existing subscriptiondomain.Subscription
	err := tx.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", demoProvider, DemoProviderSubscription).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	start := now.Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, demoPeriodDays)
	sub := subscriptiondomain.Subscription{
		ID:                     node.Generate(),
		UserID:                 DemoUserID,
		Provider:               demoProvider,
		ProviderSubscriptionID: DemoProviderSubscription,
		ProviderCustomerID:     demoCustomerID,
		PlanID:                 demoPlanID,
		Status:                 subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	return tx.WithContext(ctx).Create(&sub).Error
}
