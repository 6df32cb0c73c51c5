package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/reports"),
		attribute.String("email", "a@b.c"),
		attribute.String("signature", "t=1,v1=abc"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorReturnsRootMessage(t *testing.T) {
	root := errors.New("ledger_unavailable")
	err := fmt.Errorf("insert webhook_events for customer@example.com: %w", root)
	assert.EqualError(t, SafeError(err), "ledger_unavailable")
	assert.Nil(t, SafeError(nil))
}

func TestGinMiddlewareSkipsProbes(t *testing.T) {
	assert.True(t, untraced("/health"))
	assert.True(t, untraced("/metrics"))
	assert.False(t, untraced("/api/reports"))
}

func TestWithBaggageKeepsExistingMembers(t *testing.T) {
	ctx := withBaggage(context.Background(), "request_id", "req-1")
	ctx = withBaggage(ctx, "tenant", "org_1")
	bag := baggage.FromContext(ctx)
	assert.Equal(t, "req-1", bag.Member("request_id").Value())
	assert.Equal(t, "org_1", bag.Member("tenant").Value())

	// invalid keys leave the context untouched
	assert.Equal(t, ctx, withBaggage(ctx, "bad key", "x"))
}
