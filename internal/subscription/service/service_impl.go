package service

import (
	"context"
	"slices"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/cache"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSubscriberPageSize = 100

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository
	cache cache.SubscriptionStatusCache
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
	Cache cache.SubscriptionStatusCache `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	statusCache := p.Cache
	if statusCache == nil {
		statusCache = cache.NewSubscriptionStatusCache()
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: statusCache,
	}
}

// ApplyChange implements domain.Service.
func (s *Service) ApplyChange(ctx context.Context, change subscriptiondomain.SubscriptionChange) (*subscriptiondomain.Subscription, error) {
	provider := strings.ToLower(strings.TrimSpace(change.Provider))
	if provider == "" {
		return nil, subscriptiondomain.ErrInvalidProvider
	}
	providerSubscriptionID := strings.TrimSpace(change.ProviderSubscriptionID)
	if providerSubscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	userID := strings.TrimSpace(change.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	status := subscriptiondomain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(change.Status))))
	if status == "" {
		return nil, subscriptiondomain.ErrInvalidStatus
	}
	planID := strings.TrimSpace(change.PlanID)
	if planID == "" {
		planID = subscriptiondomain.DefaultPlanID
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:                     s.genID.Generate(),
		UserID:                 userID,
		Provider:               provider,
		ProviderSubscriptionID: providerSubscriptionID,
		ProviderCustomerID:     strings.TrimSpace(change.ProviderCustomerID),
		PlanID:                 planID,
		Status:                 status,
		CurrentPeriodStart:     change.CurrentPeriodStart,
		CurrentPeriodEnd:       change.CurrentPeriodEnd,
		TrialStart:             change.TrialStart,
		TrialEnd:               change.TrialEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		storedID, err := s.repo.Upsert(ctx, tx, &subscription)
		if err != nil {
			return err
		}
		subscription.ID = storedID

		addons := s.buildAddons(storedID, change.AddonIDs)
		if err := s.repo.ReplaceAddons(ctx, tx, storedID, addons); err != nil {
			return err
		}
		subscription.Addons = addons
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(userID)
	s.log.Info("subscription applied",
		zap.String("provider", provider),
		zap.String("provider_subscription_id", providerSubscriptionID),
		zap.String("status", string(status)),
		zap.Int("addons", len(subscription.Addons)),
	)
	return &subscription, nil
}

// SetStatus implements domain.Service.
func (s *Service) SetStatus(ctx context.Context, provider, providerSubscriptionID string, status subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, subscriptiondomain.ErrInvalidProvider
	}
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerSubscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidSubscriptionID
	}
	if strings.TrimSpace(string(status)) == "" {
		return nil, subscriptiondomain.ErrInvalidStatus
	}

	updated, err := s.repo.UpdateStatusByProviderID(ctx, s.db, provider, providerSubscriptionID, status, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		s.log.Warn("status change for unknown subscription",
			zap.String("provider", provider),
			zap.String("provider_subscription_id", providerSubscriptionID),
			zap.String("status", string(status)),
		)
		return nil, nil
	}

	s.cache.Invalidate(updated.UserID)
	return updated, nil
}

// GetStatus implements domain.Service.
func (s *Service) GetStatus(ctx context.Context, userID string) (subscriptiondomain.StatusResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return subscriptiondomain.StatusResponse{}, subscriptiondomain.ErrInvalidUser
	}
	if cached, ok := s.cache.GetStatus(userID); ok {
		return cached, nil
	}

	active, err := s.repo.FindLatestByUser(ctx, s.db, userID, []subscriptiondomain.SubscriptionStatus{
		subscriptiondomain.SubscriptionStatusActive,
	})
	if err != nil {
		return subscriptiondomain.StatusResponse{}, err
	}

	resp := subscriptiondomain.StatusResponse{}
	if active != nil {
		if err := s.loadAddons(ctx, active); err != nil {
			return subscriptiondomain.StatusResponse{}, err
		}
		resp.HasActiveSubscription = true
		resp.Subscription = active
	}

	s.cache.SetStatus(userID, resp)
	return resp, nil
}

// GetCurrent implements domain.Service.
func (s *Service) GetCurrent(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	current, err := s.repo.FindLatestByUser(ctx, s.db, userID, nil)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if err := s.loadAddons(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

// ListSubscriberIDs implements domain.Service.
func (s *Service) ListSubscriberIDs(ctx context.Context, req subscriptiondomain.ListSubscribersRequest) ([]string, error) {
	statuses := req.Statuses
	if len(statuses) == 0 {
		statuses = []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusTrialing,
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSubscriberPageSize
	}
	return s.repo.ListUserIDsByStatus(ctx, s.db, statuses, req.AfterUserID, limit)
}

func (s *Service) loadAddons(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	addons, err := s.repo.ListAddons(ctx, s.db, subscription.ID)
	if err != nil {
		return err
	}
	if addons == nil {
		addons = []subscriptiondomain.SubscriptionAddon{}
	}
	subscription.Addons = addons
	return nil
}

func (s *Service) buildAddons(subscriptionID snowflake.ID, addonIDs []string) []subscriptiondomain.SubscriptionAddon {
	now := s.clock.Now()
	seen := make([]string, 0, len(addonIDs))
	addons := make([]subscriptiondomain.SubscriptionAddon, 0, len(addonIDs))
	for _, raw := range addonIDs {
		addonID := strings.TrimSpace(raw)
		if addonID == "" || slices.Contains(seen, addonID) {
			continue
		}
		seen = append(seen, addonID)
		addons = append(addons, subscriptiondomain.SubscriptionAddon{
			ID:             s.genID.Generate(),
			SubscriptionID: subscriptionID,
			AddonID:        addonID,
			Quantity:       1,
			CreatedAt:      now,
		})
	}
	return addons
}
