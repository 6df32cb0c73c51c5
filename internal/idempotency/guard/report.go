package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-reports/internal/clock"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/dedup"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
	obslogger "github.com/smallbiznis/railzway-reports/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/railzway-reports/internal/observability/metrics"
	"go.uber.org/zap"
)

// DefaultPendingStaleAfter is how long a pending row is assumed to belong
// to a live attempt before another caller may take it over.
const DefaultPendingStaleAfter = 10 * time.Minute

// ReportGuard drives the pending/generated/failed ledger.
//
// A generated row is terminal. Pending and failed rows are retaken with a
// compare-and-swap on attempts, so of several concurrent retries only one
// runs the effect. A pending row younger than staleAfter is treated as
// owned by a live attempt; a zero staleAfter lets every retry take it over.
type ReportGuard struct {
	ledger     domain.ReportLedger
	clock      clock.Clock
	node       *snowflake.Node
	staleAfter time.Duration
	log        *zap.Logger
	metrics    *obsmetrics.LedgerMetrics
}

type ReportOption func(*ReportGuard)

func WithPendingStaleAfter(d time.Duration) ReportOption {
	return func(g *ReportGuard) {
		if d >= 0 {
			g.staleAfter = d
		}
	}
}

func WithReportMetrics(m *obsmetrics.LedgerMetrics) ReportOption {
	return func(g *ReportGuard) {
		g.metrics = m
	}
}

func NewReportGuard(ledger domain.ReportLedger, clk clock.Clock, node *snowflake.Node, log *zap.Logger, opts ...ReportOption) *ReportGuard {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	g := &ReportGuard{
		ledger:     ledger,
		clock:      clk,
		node:       node,
		staleAfter: DefaultPendingStaleAfter,
		log:        log.Named("idempotency.report"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ReportTicket is the outcome of Begin.
type ReportTicket struct {
	Key      domain.Key
	Decision domain.Decision
	Entry    *domain.ReportEntry
}

// Outcome is what a successful report effect produced.
type Outcome struct {
	ArtifactRef    string
	NotificationID string
}

// Begin consults the ledger for trigger. A generated row yields
// DecisionSkip with the stored entry. A row owned by a live attempt yields
// DecisionInFlight with ErrInFlight. Otherwise the row is pending and
// owned by the caller.
func (g *ReportGuard) Begin(ctx context.Context, trigger domain.ReportTrigger) (*ReportTicket, error) {
	key, err := dedup.ReportKey(trigger)
	if err != nil {
		return nil, err
	}

	existing, err := g.ledger.FindByKey(ctx, key)
	if err != nil {
		return nil, unavailable("find report", err)
	}

	now := g.clock.Now()
	if existing == nil {
		entry := domain.ReportEntry{
			ID:             g.node.Generate(),
			DedupKey:       key.Value,
			UserID:         trigger.SubjectID,
			OrganizationID: trigger.ScopeID,
			ReportType:     trigger.Kind,
			PeriodStart:    trigger.PeriodStart,
			PeriodEnd:      trigger.PeriodEnd,
			Status:         domain.ReportStatusPending,
			Attempts:       1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		res, err := g.ledger.InsertIfAbsent(ctx, entry)
		if err != nil {
			return nil, unavailable("insert report", err)
		}
		if res.Inserted {
			return g.decide(ctx, key, domain.DecisionProceed, &entry), nil
		}
		if res.Existing == nil {
			return nil, unavailable("insert report", errors.New("conflicting row not readable"))
		}
		existing = res.Existing
	}

	return g.claim(ctx, key, existing, now)
}

func (g *ReportGuard) claim(ctx context.Context, key domain.Key, existing *domain.ReportEntry, now time.Time) (*ReportTicket, error) {
	switch existing.Status {
	case domain.ReportStatusGenerated:
		return g.decide(ctx, key, domain.DecisionSkip, existing), nil
	case domain.ReportStatusPending:
		if g.staleAfter > 0 && existing.UpdatedAt.After(now.Add(-g.staleAfter)) {
			return g.decide(ctx, key, domain.DecisionInFlight, existing), domain.ErrInFlight
		}
	case domain.ReportStatusFailed:
	default:
		return nil, unavailable("claim report", fmt.Errorf("unknown status %q", existing.Status))
	}

	attempts := existing.Attempts
	applied, err := g.ledger.UpdateByKey(ctx, key, domain.ReportPatch{
		From:              []domain.ReportStatus{existing.Status},
		ExpectAttempts:    &attempts,
		To:                domain.ReportStatusPending,
		IncrementAttempts: true,
		ClearLastError:    true,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, unavailable("claim report", err)
	}
	if !applied {
		current, err := g.ledger.FindByKey(ctx, key)
		if err != nil {
			return nil, unavailable("reload report", err)
		}
		if current != nil && current.Status == domain.ReportStatusGenerated {
			return g.decide(ctx, key, domain.DecisionSkip, current), nil
		}
		if current == nil {
			current = existing
		}
		return g.decide(ctx, key, domain.DecisionInFlight, current), domain.ErrInFlight
	}

	claimed := *existing
	claimed.Status = domain.ReportStatusPending
	claimed.Attempts = attempts + 1
	claimed.LastError = nil
	claimed.UpdatedAt = now
	g.metrics.IncTransition(obsmetrics.FamilyReport, string(domain.ReportStatusPending))
	return g.decide(ctx, key, domain.DecisionResume, &claimed), nil
}

// Complete moves the caller's pending row to generated. If a concurrent
// attempt already generated it, the stored row is returned.
func (g *ReportGuard) Complete(ctx context.Context, ticket *ReportTicket, outcome Outcome) (*domain.ReportEntry, error) {
	now := g.clock.Now()
	ref := outcome.ArtifactRef
	patch := domain.ReportPatch{
		From:           []domain.ReportStatus{domain.ReportStatusPending},
		To:             domain.ReportStatusGenerated,
		ArtifactRef:    &ref,
		GeneratedAt:    &now,
		ClearLastError: true,
		UpdatedAt:      now,
	}
	if outcome.NotificationID != "" {
		notificationID := outcome.NotificationID
		patch.NotificationID = &notificationID
	}

	// the effect already ran; commit even if the caller has gone away
	commitCtx := context.WithoutCancel(ctx)
	applied, err := g.ledger.UpdateByKey(commitCtx, ticket.Key, patch)
	if err != nil {
		return nil, unavailable("commit generated report", err)
	}
	if !applied {
		current, err := g.ledger.FindByKey(commitCtx, ticket.Key)
		if err != nil {
			return nil, unavailable("reload report", err)
		}
		if current != nil && current.Status == domain.ReportStatusGenerated {
			return current, nil
		}
		return nil, unavailable("commit generated report", errors.New("report left pending state"))
	}

	g.metrics.IncTransition(obsmetrics.FamilyReport, string(domain.ReportStatusGenerated))
	entry := *ticket.Entry
	entry.Status = domain.ReportStatusGenerated
	entry.ArtifactRef = &ref
	entry.GeneratedAt = &now
	entry.NotificationID = patch.NotificationID
	entry.LastError = nil
	entry.UpdatedAt = now
	return &entry, nil
}

// Fail moves the caller's pending row to failed, recording cause.
func (g *ReportGuard) Fail(ctx context.Context, ticket *ReportTicket, cause error) error {
	msg := truncateError(cause)
	applied, err := g.ledger.UpdateByKey(context.WithoutCancel(ctx), ticket.Key, domain.ReportPatch{
		From:      []domain.ReportStatus{domain.ReportStatusPending},
		To:        domain.ReportStatusFailed,
		LastError: &msg,
		UpdatedAt: g.clock.Now(),
	})
	if err != nil {
		return unavailable("mark report failed", err)
	}
	if !applied {
		g.log.Warn("report no longer pending, failure not recorded",
			zap.String("dedup_key", ticket.Key.String()),
			zap.String("cause", msg),
		)
		return nil
	}
	g.metrics.IncTransition(obsmetrics.FamilyReport, string(domain.ReportStatusFailed))
	return nil
}

// Run executes effect under the report protocol. On DecisionSkip the stored
// entry is returned and effect is not called.
func (g *ReportGuard) Run(ctx context.Context, trigger domain.ReportTrigger, effect func(ctx context.Context, entry *domain.ReportEntry) (Outcome, error)) (*domain.ReportEntry, domain.Decision, error) {
	ticket, err := g.Begin(ctx, trigger)
	if err != nil {
		if ticket != nil {
			return ticket.Entry, ticket.Decision, err
		}
		return nil, "", err
	}
	if !ticket.Decision.Runs() {
		return ticket.Entry, ticket.Decision, nil
	}

	start := time.Now()
	outcome, err := effect(ctx, ticket.Entry)
	if err != nil {
		g.metrics.ObserveEffect(obsmetrics.FamilyReport, "failed", time.Since(start))
		failed := effectFailed(err)
		if ferr := g.Fail(ctx, ticket, err); ferr != nil {
			return nil, ticket.Decision, errors.Join(failed, ferr)
		}
		return nil, ticket.Decision, failed
	}
	g.metrics.ObserveEffect(obsmetrics.FamilyReport, "generated", time.Since(start))

	entry, err := g.Complete(ctx, ticket, outcome)
	if err != nil {
		return nil, ticket.Decision, err
	}
	return entry, ticket.Decision, nil
}

func (g *ReportGuard) decide(ctx context.Context, key domain.Key, decision domain.Decision, entry *domain.ReportEntry) *ReportTicket {
	g.metrics.IncDecision(obsmetrics.FamilyReport, string(decision))
	obslogger.WithKey(obslogger.WithContext(ctx, g.log), domain.FamilyReport, key.String()).
		Debug("idempotency.decision", zap.String("decision", string(decision)))
	return &ReportTicket{Key: key, Decision: decision, Entry: entry}
}
