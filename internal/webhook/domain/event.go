package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Kind is the provider event type string, e.g. "invoice.payment_failed".
type Kind string

const (
	KindSubscriptionCreated     Kind = "customer.subscription.created"
	KindSubscriptionUpdated     Kind = "customer.subscription.updated"
	KindSubscriptionDeleted     Kind = "customer.subscription.deleted"
	KindInvoicePaymentSucceeded Kind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice.payment_failed"
)

// Event is the canonical webhook event parsed by adapters. At most one of
// Subscription and Invoice is set; kinds the service does not act on carry
// neither.
type Event struct {
	Provider   string
	ID         string
	Kind       Kind
	ObjectID   string
	OccurredAt time.Time

	Subscription *SubscriptionObject
	Invoice      *InvoiceObject

	RawPayload []byte
}

// SubscriptionObject is the provider's subscription snapshot.
type SubscriptionObject struct {
	ID         string
	CustomerID string
	Status     string
	UserID     string
	PlanID     string
	AddonIDs   []string
	StartDate  *time.Time
	EndedAt    *time.Time
	TrialStart *time.Time
	TrialEnd   *time.Time
}

// InvoiceObject carries the subscription an invoice was billed for.
type InvoiceObject struct {
	ID             string
	SubscriptionID string
}

// Adapter verifies and decodes one provider's webhook envelope.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Outcome reports what ingestion did with a delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type IngestResult struct {
	EventID string  `json:"event_id"`
	Kind    Kind    `json:"kind"`
	Outcome Outcome `json:"outcome"`
}

type Service interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestResult, error)
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
)
