package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	subjectIDKey ctxKey = "subject_id"
	orgIDKey     ctxKey = "org_id"
	actorTypeKey ctxKey = "actor_type"
	actorIDKey   ctxKey = "actor_id"
)

const (
	ActorTypeUser      = "user"
	ActorTypeProvider  = "provider"
	ActorTypeScheduler = "scheduler"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithSubjectID stores the identity of the user a request acts for.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return withString(ctx, subjectIDKey, subjectID)
}

func SubjectIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, subjectIDKey)
}

func WithOrgID(ctx context.Context, orgID string) context.Context {
	return withString(ctx, orgIDKey, orgID)
}

func OrgIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, orgIDKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withString(ctx, actorTypeKey, actorType)
	return withString(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, actorTypeKey), stringFrom(ctx, actorIDKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
