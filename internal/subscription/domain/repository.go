package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts or updates by (provider, provider_subscription_id) and
	// returns the stored row id.
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) (snowflake.ID, error)
	ReplaceAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, addons []SubscriptionAddon) error
	UpdateStatusByProviderID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string, status SubscriptionStatus, at time.Time) (*Subscription, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, provider, providerSubscriptionID string) (*Subscription, error)
	FindLatestByUser(ctx context.Context, db *gorm.DB, userID string, statuses []SubscriptionStatus) (*Subscription, error)
	ListAddons(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionAddon, error)
	ListUserIDsByStatus(ctx context.Context, db *gorm.DB, statuses []SubscriptionStatus, afterUserID string, limit int) ([]string, error)
}
