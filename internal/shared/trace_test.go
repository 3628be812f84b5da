package shared_test

import (
	"context"
	"testing"

	"github.com/flashing/seafile/internal/shared"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := shared.TraceID(ctx); got != "-" {
		t.Fatalf("expected placeholder trace_id, got %q", got)
	}

	id := shared.NewTraceID()
	if id == "" {
		t.Fatal("NewTraceID returned empty string")
	}
	ctx = shared.WithTraceID(ctx, id)
	if got := shared.TraceID(ctx); got != id {
		t.Fatalf("trace_id round trip: got %q want %q", got, id)
	}
}

func TestRepoIDRoundTrip(t *testing.T) {
	ctx := shared.WithRepoID(context.Background(), "0fc7a788-0c1d-4ae9-9bb7-603b33b55d73")
	if got := shared.RepoID(ctx); got != "0fc7a788-0c1d-4ae9-9bb7-603b33b55d73" {
		t.Fatalf("repo_id round trip failed: %q", got)
	}
	if got := shared.RepoID(context.Background()); got != "" {
		t.Fatalf("expected empty repo_id, got %q", got)
	}
}
