package domain

import (
	"context"
	"errors"
	"time"
)

// SubscriptionChange is a provider's full view of one subscription.
type SubscriptionChange struct {
	Provider               string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	UserID                 string
	PlanID                 string
	Status                 SubscriptionStatus
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	AddonIDs               []string
}

// StatusResponse answers whether a user currently holds an active plan.
type StatusResponse struct {
	HasActiveSubscription bool          `json:"hasActiveSubscription"`
	Subscription          *Subscription `json:"subscription"`
}

type ListSubscribersRequest struct {
	Statuses    []SubscriptionStatus
	AfterUserID string
	Limit       int
}

type Service interface {
	// ApplyChange upserts the subscription and replaces its add-on set.
	// Applying the same change twice leaves the same state.
	ApplyChange(ctx context.Context, change SubscriptionChange) (*Subscription, error)
	// SetStatus moves an existing subscription to status. Unknown
	// subscriptions are ignored and reported as (nil, nil).
	SetStatus(ctx context.Context, provider, providerSubscriptionID string, status SubscriptionStatus) (*Subscription, error)
	GetStatus(ctx context.Context, userID string) (StatusResponse, error)
	// GetCurrent returns the user's most relevant subscription in any
	// status, with add-ons, or nil.
	GetCurrent(ctx context.Context, userID string) (*Subscription, error)
	ListSubscriberIDs(ctx context.Context, req ListSubscribersRequest) ([]string, error)
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
	ErrInvalidUser           = errors.New("invalid_user")
	ErrInvalidStatus         = errors.New("invalid_status")
)
