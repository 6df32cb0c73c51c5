package domain

import "context"

// WebhookLedger is the persistence surface the webhook guard needs.
// The unique (provider, provider_event_id) constraint is the only
// serialization point between concurrent deliveries.
type WebhookLedger interface {
	InsertIfAbsent(ctx context.Context, entry WebhookEntry) (InsertResult[WebhookEntry], error)
	FindByKey(ctx context.Context, key Key) (*WebhookEntry, error)
	UpdateByKey(ctx context.Context, key Key, patch WebhookPatch) (bool, error)
}

// ReportLedger is the persistence surface the report guard needs.
// UpdateByKey never writes unless the row matches the patch preconditions.
type ReportLedger interface {
	InsertIfAbsent(ctx context.Context, entry ReportEntry) (InsertResult[ReportEntry], error)
	FindByKey(ctx context.Context, key Key) (*ReportEntry, error)
	UpdateByKey(ctx context.Context, key Key, patch ReportPatch) (bool, error)
}
