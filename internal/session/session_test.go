package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flashing/seafile/internal/session"
)

func TestDetachedSlotsFailLoudly(t *testing.T) {
	s := session.New()
	ctx := context.Background()

	if r := s.Repos.Get("any"); r != nil {
		t.Fatalf("detached repo store returned a repo: %+v", r)
	}
	if p := s.Peers.GetPeer("any"); p != nil {
		t.Fatalf("detached peer client returned a peer: %+v", p)
	}

	if _, err := s.Transfer.AddDownload(ctx, "r", "p", "fetch_head", "master", "tok"); !errors.Is(err, session.ErrEngineNotAttached) {
		t.Fatalf("expected ErrEngineNotAttached, got %v", err)
	}
	if _, err := s.Indexer.IndexWorktree(ctx, "r", "/tmp/x", ""); !errors.Is(err, session.ErrEngineNotAttached) {
		t.Fatalf("expected ErrEngineNotAttached, got %v", err)
	}
	if _, err := s.Branches.Get("r", "local"); !errors.Is(err, session.ErrEngineNotAttached) {
		t.Fatalf("expected ErrEngineNotAttached, got %v", err)
	}
	if err := s.Checkout.StartCheckout(nil, "/tmp/x"); !errors.Is(err, session.ErrEngineNotAttached) {
		t.Fatalf("expected ErrEngineNotAttached, got %v", err)
	}
}
