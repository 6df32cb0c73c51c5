package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	idempotencydomain "github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/guard"
	obscontext "github.com/smallbiznis/railzway-reports/internal/observability/context"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/railzway-reports/internal/subscription/domain"
	"github.com/smallbiznis/railzway-reports/internal/webhook/adapters"
	"github.com/smallbiznis/railzway-reports/internal/webhook/domain"
	"github.com/smallbiznis/railzway-reports/internal/webhook/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Guard           *guard.WebhookGuard
	Adapters        *adapters.Registry
	Validator       *schema.Validator
	SubscriptionSvc subscriptiondomain.Service
	Metrics         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	guard           *guard.WebhookGuard
	adapters        *adapters.Registry
	validator       *schema.Validator
	subscriptionSvc subscriptiondomain.Service
	metrics         *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:             p.Log.Named("webhook.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		guard:           p.Guard,
		adapters:        p.Adapters,
		validator:       p.Validator,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
	}
}

// Ingest verifies, records and applies one provider delivery. Deliveries
// already processed return OutcomeDuplicate without side effects.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return domain.IngestResult{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_signature")
		return domain.IngestResult{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "unknown", "invalid_payload")
		return domain.IngestResult{}, err
	}
	if s.validator != nil {
		if err := s.validator.Validate(event.Kind, payload); err != nil {
			s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind), "invalid_payload")
			return domain.IngestResult{}, err
		}
	}

	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeProvider, provider)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("event_id", event.ID),
		zap.String("event_kind", string(event.Kind)),
	)

	entry := idempotencydomain.WebhookEntry{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: event.ID,
		EventKind:       string(event.Kind),
		ObjectID:        event.ObjectID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}

	result := domain.IngestResult{EventID: event.ID, Kind: event.Kind, Outcome: domain.OutcomeProcessed}
	decision, err := s.guard.Run(ctx, entry, func(ctx context.Context) error {
		applied, err := s.apply(ctx, log, event)
		if err == nil && !applied {
			result.Outcome = domain.OutcomeIgnored
		}
		return err
	})
	switch {
	case errors.Is(err, idempotencydomain.ErrAlreadyProcessed):
		log.Info("webhook already processed")
		result.Outcome = domain.OutcomeDuplicate
		s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind), string(domain.OutcomeDuplicate))
		return result, nil
	case err != nil:
		log.Warn("webhook ingest failed", zap.String("decision", string(decision)), zap.Error(err))
		s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind), outcomeForError(err))
		return domain.IngestResult{}, err
	}

	log.Info("webhook processed",
		zap.String("decision", string(decision)),
		zap.String("outcome", string(result.Outcome)),
	)
	s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind), string(result.Outcome))
	return result, nil
}

// apply runs the event's effect. It reports false when the event kind or
// content carries nothing to apply.
func (s *Service) apply(ctx context.Context, log *zap.Logger, event *domain.Event) (bool, error) {
	switch event.Kind {
	case domain.KindSubscriptionCreated, domain.KindSubscriptionUpdated:
		sub := event.Subscription
		if sub == nil {
			return false, domain.ErrInvalidEvent
		}
		if sub.UserID == "" {
			log.Warn("subscription without userId metadata", zap.String("provider_subscription_id", sub.ID))
			return false, nil
		}
		_, err := s.subscriptionSvc.ApplyChange(ctx, subscriptiondomain.SubscriptionChange{
			Provider:               event.Provider,
			ProviderSubscriptionID: sub.ID,
			ProviderCustomerID:     sub.CustomerID,
			UserID:                 sub.UserID,
			PlanID:                 sub.PlanID,
			Status:                 subscriptiondomain.SubscriptionStatus(sub.Status),
			CurrentPeriodStart:     sub.StartDate,
			CurrentPeriodEnd:       sub.EndedAt,
			TrialStart:             sub.TrialStart,
			TrialEnd:               sub.TrialEnd,
			AddonIDs:               sub.AddonIDs,
		})
		if err != nil {
			return false, err
		}
		s.metrics.RecordSubscriptionMutation(ctx, string(event.Kind))
		return true, nil

	case domain.KindSubscriptionDeleted:
		if event.Subscription == nil {
			return false, domain.ErrInvalidEvent
		}
		return s.setStatus(ctx, event, event.Subscription.ID, subscriptiondomain.SubscriptionStatusCanceled)

	case domain.KindInvoicePaymentSucceeded:
		if event.Invoice == nil || event.Invoice.SubscriptionID == "" {
			return false, nil
		}
		return s.setStatus(ctx, event, event.Invoice.SubscriptionID, subscriptiondomain.SubscriptionStatusActive)

	case domain.KindInvoicePaymentFailed:
		if event.Invoice == nil || event.Invoice.SubscriptionID == "" {
			return false, nil
		}
		return s.setStatus(ctx, event, event.Invoice.SubscriptionID, subscriptiondomain.SubscriptionStatusPastDue)
	}

	log.Debug("webhook kind not handled")
	return false, nil
}

func (s *Service) setStatus(ctx context.Context, event *domain.Event, providerSubscriptionID string, status subscriptiondomain.SubscriptionStatus) (bool, error) {
	updated, err := s.subscriptionSvc.SetStatus(ctx, event.Provider, providerSubscriptionID, status)
	if err != nil {
		return false, err
	}
	if updated == nil {
		return false, nil
	}
	s.metrics.RecordSubscriptionMutation(ctx, string(event.Kind))
	return true, nil
}

func outcomeForError(err error) string {
	switch {
	case errors.Is(err, idempotencydomain.ErrInFlight):
		return "in_flight"
	case errors.Is(err, idempotencydomain.ErrLedgerUnavailable):
		return "ledger_unavailable"
	case errors.Is(err, idempotencydomain.ErrEffectFailed):
		return "effect_failed"
	case errors.Is(err, idempotencydomain.ErrInvalidTrigger):
		return "invalid_trigger"
	}
	return "error"
}
