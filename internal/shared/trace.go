package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type repoIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRepoID attaches a repo_id to the context.
func WithRepoID(ctx context.Context, repoID string) context.Context {
	return context.WithValue(ctx, repoIDKey{}, repoID)
}

// RepoID extracts repo_id from context. Returns "" if absent.
func RepoID(ctx context.Context) string {
	if v, ok := ctx.Value(repoIDKey{}).(string); ok {
		return v
	}
	return ""
}
