package guard

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/dedup"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/lease"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"go.uber.org/zap"
)

// WebhookGuard drives the binary processed/unprocessed ledger.
//
// Without a Leaser, a delivery that finds an unprocessed row re-runs the
// effect, so two concurrent resumers may both run it. Effects must converge.
// With a Leaser, only the caller holding the lease runs the effect; others
// get ErrInFlight and rely on provider redelivery.
type WebhookGuard struct {
	ledger   domain.WebhookLedger
	leaser   Leaser
	leaseTTL time.Duration
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.LedgerMetrics
}

type WebhookOption func(*WebhookGuard)

func WithLease(leaser Leaser, ttl time.Duration) WebhookOption {
	return func(g *WebhookGuard) {
		g.leaser = leaser
		g.leaseTTL = ttl
	}
}

func WithWebhookMetrics(m *obsmetrics.LedgerMetrics) WebhookOption {
	return func(g *WebhookGuard) {
		g.metrics = m
	}
}

func NewWebhookGuard(ledger domain.WebhookLedger, clk clock.Clock, log *zap.Logger, opts ...WebhookOption) *WebhookGuard {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &WebhookGuard{
		ledger:   ledger,
		leaseTTL: 2 * time.Minute,
		clock:    clk,
		log:      log.Named("idempotency.webhook"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WebhookTicket is the outcome of Begin. Callers run the effect only when
// Decision.Runs() is true and must then call Complete or Abort.
type WebhookTicket struct {
	Key        domain.Key
	Decision   domain.Decision
	Entry      *domain.WebhookEntry
	leaseToken string
}

// Begin records the delivery if it is new and decides whether to run it.
// A processed row yields DecisionSkip with ErrAlreadyProcessed.
func (g *WebhookGuard) Begin(ctx context.Context, entry domain.WebhookEntry) (*WebhookTicket, error) {
	key, err := dedup.WebhookKey(entry.Provider, entry.ProviderEventID)
	if err != nil {
		return nil, err
	}

	entry.Provider = key.Namespace
	entry.Processed = false
	entry.ProcessedAt = nil
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = g.clock.Now()
	}

	res, err := g.ledger.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, unavailable("insert webhook event", err)
	}

	ticket := &WebhookTicket{Key: key}
	switch {
	case res.Inserted:
		ticket.Decision = domain.DecisionProceed
		ticket.Entry = &entry
	case res.Existing == nil:
		return nil, unavailable("insert webhook event", errors.New("conflicting row not readable"))
	case res.Existing.Processed:
		ticket.Decision = domain.DecisionSkip
		ticket.Entry = res.Existing
		g.decided(ctx, ticket)
		return ticket, domain.ErrAlreadyProcessed
	default:
		ticket.Decision = domain.DecisionResume
		ticket.Entry = res.Existing
	}

	if g.leaser != nil {
		token, ok, err := g.leaser.Acquire(ctx, key, g.leaseTTL)
		if err != nil {
			return nil, unavailable("acquire lease", err)
		}
		if !ok {
			ticket.Decision = domain.DecisionInFlight
			g.decided(ctx, ticket)
			return ticket, domain.ErrInFlight
		}
		ticket.leaseToken = token

		if ticket.Decision == domain.DecisionResume {
			current, err := g.ledger.FindByKey(ctx, key)
			if err != nil {
				g.release(ctx, ticket)
				return nil, unavailable("reload webhook event", err)
			}
			if current != nil && current.Processed {
				g.release(ctx, ticket)
				ticket.Decision = domain.DecisionSkip
				ticket.Entry = current
				g.decided(ctx, ticket)
				return ticket, domain.ErrAlreadyProcessed
			}
		}
	}

	g.decided(ctx, ticket)
	return ticket, nil
}

// Complete flips the row to processed and releases any lease.
func (g *WebhookGuard) Complete(ctx context.Context, ticket *WebhookTicket) error {
	defer g.release(ctx, ticket)

	now := g.clock.Now()
	applied, err := g.ledger.UpdateByKey(context.WithoutCancel(ctx), ticket.Key, domain.WebhookPatch{ProcessedAt: now})
	if err != nil {
		return unavailable("mark webhook processed", err)
	}
	if applied {
		g.metrics.IncTransition(obsmetrics.FamilyWebhook, "processed")
		if ticket.Entry != nil {
			ticket.Entry.Processed = true
			ticket.Entry.ProcessedAt = &now
		}
	}
	return nil
}

// Abort leaves the row unprocessed so the next delivery resumes it.
func (g *WebhookGuard) Abort(ctx context.Context, ticket *WebhookTicket) {
	g.release(ctx, ticket)
}

// Run executes effect under the webhook protocol.
func (g *WebhookGuard) Run(ctx context.Context, entry domain.WebhookEntry, effect func(ctx context.Context) error) (domain.Decision, error) {
	ticket, err := g.Begin(ctx, entry)
	if err != nil {
		if ticket != nil {
			return ticket.Decision, err
		}
		return "", err
	}

	start := time.Now()
	if err := effect(ctx); err != nil {
		g.Abort(ctx, ticket)
		g.metrics.ObserveEffect(obsmetrics.FamilyWebhook, "failed", time.Since(start))
		return ticket.Decision, effectFailed(err)
	}
	g.metrics.ObserveEffect(obsmetrics.FamilyWebhook, "completed", time.Since(start))

	if err := g.Complete(ctx, ticket); err != nil {
		return ticket.Decision, err
	}
	return ticket.Decision, nil
}

func (g *WebhookGuard) release(ctx context.Context, ticket *WebhookTicket) {
	if g.leaser == nil || ticket == nil || ticket.leaseToken == "" {
		return
	}
	err := g.leaser.Release(context.WithoutCancel(ctx), ticket.Key, ticket.leaseToken)
	switch {
	case errors.Is(err, lease.ErrLeaseLost):
		g.log.Warn("webhook lease expired before the effect finished",
			zap.String("dedup_key", ticket.Key.String()),
			zap.Duration("lease_ttl", g.leaseTTL),
		)
	case err != nil:
		g.log.Warn("release webhook lease failed", zap.String("dedup_key", ticket.Key.String()), zap.Error(err))
	}
	ticket.leaseToken = ""
}

func (g *WebhookGuard) decided(ctx context.Context, ticket *WebhookTicket) {
	g.metrics.IncDecision(obsmetrics.FamilyWebhook, string(ticket.Decision))
	obslogger.WithKey(obslogger.WithContext(ctx, g.log), domain.FamilyWebhook, ticket.Key.String()).
		Debug("idempotency.decision", zap.String("decision", string(ticket.Decision)))
}
