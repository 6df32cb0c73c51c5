// Package domain contains persistence models for provider-managed subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus mirrors the provider's lifecycle state verbatim.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// DefaultPlanID is stored when the provider omits a plan reference.
const DefaultPlanID = "unknown"

// Subscription is the local projection of a provider subscription.
type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	UserID                 string             `json:"user_id" gorm:"type:text;not null;index"`
	Provider               string             `json:"provider" gorm:"type:text;not null"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" gorm:"type:text;not null"`
	ProviderCustomerID     string             `json:"provider_customer_id" gorm:"type:text;not null"`
	PlanID                 string             `json:"plan_id" gorm:"type:text;not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end"`
	TrialStart             *time.Time         `json:"trial_start"`
	TrialEnd               *time.Time         `json:"trial_end"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`

	Addons []SubscriptionAddon `json:"addons" gorm:"-"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionAddon attaches an add-on to a subscription.
type SubscriptionAddon struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index"`
	AddonID        string       `json:"addon_id" gorm:"type:text;not null"`
	Quantity       int          `json:"quantity" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (SubscriptionAddon) TableName() string { return "subscription_addons" }
