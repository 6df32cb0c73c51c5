package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) (snowflake.ID, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"provider_customer_id",
				"plan_id",
				"status",
				"current_period_start",
				"current_period_end",
				"trial_start",
				"trial_end",
				"updated_at",
			}),
		}).
		Create(subscription).Error
	if err != nil {
		return 0, err
	}

	stored, err := r.FindByProviderID(ctx, db, subscription.Provider, subscription.ProviderSubscriptionID)
	if err != nil {
		return 0, err
	}
	if stored == nil {
		return 0, errors.New("subscription not readable after upsert")
	}
	return stored.ID, nil
}

func (r *repo) ReplaceAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, addons []subscriptiondomain.SubscriptionAddon) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM subscription_addons WHERE subscription_id = ?`,
		subscriptionID,
	).Error; err != nil {
		return err
	}

	for _, addon := range addons {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO subscription_addons (id, subscription_id, addon_id, quantity, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			addon.ID,
			subscriptionID,
			addon.AddonID,
			addon.Quantity,
			addon.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) UpdateStatusByProviderID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string, status subscriptiondomain.SubscriptionStatus, at time.Time) (*subscriptiondomain.Subscription, error) {
	res := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByProviderID(ctx, db, provider, providerSubscriptionID)
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Take(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindLatestByUser(ctx context.Context, db *gorm.DB, userID string, statuses []subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	var subscription subscriptiondomain.Subscription
	err := q.Order("updated_at DESC").Order("id DESC").Take(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) ListAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]subscriptiondomain.SubscriptionAddon, error) {
	var addons []subscriptiondomain.SubscriptionAddon
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, addon_id, quantity, created_at
		 FROM subscription_addons
		 WHERE subscription_id = ?
		 ORDER BY addon_id ASC`,
		subscriptionID,
	).Scan(&addons).Error
	if err != nil {
		return nil, err
	}
	return addons, nil
}

func (r *repo) ListUserIDsByStatus(ctx context.Context, db *gorm.DB, statuses []subscriptiondomain.SubscriptionStatus, afterUserID string, limit int) ([]string, error) {
	var userIDs []string
	err := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Distinct("user_id").
		Where("status IN ?", statuses).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}
