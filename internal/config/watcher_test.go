package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/flashing/seafile/internal/config"
)

func TestWatcherReportsConfigWrite(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := config.NewWatcher(dir, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("unexpected path %q", ev.Path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	w := config.NewWatcher(dir, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			// A buffered event may arrive first; the channel must still
			// close afterwards.
			if _, stillOpen := <-w.Events(); stillOpen {
				t.Fatal("events channel not closed after cancel")
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for events channel to close")
	}
}
