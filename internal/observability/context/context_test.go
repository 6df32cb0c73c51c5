package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithSubjectID(ctx, "u1")
	ctx = WithActor(ctx, ActorTypeProvider, "stripe")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "u1", SubjectIDFromContext(ctx))
	assert.Empty(t, OrgIDFromContext(ctx))

	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, ActorTypeProvider, actorType)
	assert.Equal(t, "stripe", actorID)
}

func TestEmptyValuesAreIgnored(t *testing.T) {
	ctx := WithSubjectID(context.Background(), "u1")
	ctx = WithSubjectID(ctx, "   ")
	assert.Equal(t, "u1", SubjectIDFromContext(ctx))
}
