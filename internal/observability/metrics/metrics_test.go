package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("user_id", "u1"),
		attribute.String("outcome", "processed"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("provider"))
	assert.Contains(t, keys, attribute.Key("outcome"))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordWebhookEvent(ctx, "stripe", "invoice.payment_failed", "processed")
	m.RecordReportGeneration(ctx, "weekly", "generated")
	m.RecordNotification(ctx, "brevo", "sent")
	m.RecordSubscriptionMutation(ctx, "customer.subscription.updated")
	m.RecordRateLimit(ctx, "/api/reports/generate", "denied")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordWebhookEvent(context.Background(), "stripe", "customer.subscription.created", "processed")
}
