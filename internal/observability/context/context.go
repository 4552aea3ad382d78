package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey  ctxKey = "request_id"
	businessIDKey ctxKey = "business_id"
	subjectIDKey  ctxKey = "subject_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithBusinessID tags the context with the supplier business being billed.
func WithBusinessID(ctx context.Context, businessID string) context.Context {
	return context.WithValue(ctx, businessIDKey, strings.TrimSpace(businessID))
}

func BusinessIDFromContext(ctx context.Context) string {
	return stringValue(ctx, businessIDKey)
}

// WithSubjectID tags the context with the invoicing execution subject.
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectIDKey, strings.TrimSpace(subjectID))
}

func SubjectIDFromContext(ctx context.Context) string {
	return stringValue(ctx, subjectIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
