package maintenance_test

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashing/seafile/internal/maintenance"
	"github.com/flashing/seafile/internal/persistence"
)

func testStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "clone.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSchedulerParsesCron(t *testing.T) {
	s, err := maintenance.NewScheduler(maintenance.Config{
		Store:      testStore(t),
		Logger:     slog.Default(),
		VacuumCron: "0 3 * * *",
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	next := s.NextRun()
	if next.IsZero() {
		t.Fatal("expected a next run time")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Fatalf("expected 03:00 next run, got %v", next)
	}
	if !next.After(time.Now()) {
		t.Fatalf("next run not in the future: %v", next)
	}
}

func TestNewSchedulerRejectsBadCron(t *testing.T) {
	_, err := maintenance.NewScheduler(maintenance.Config{
		Store:      testStore(t),
		VacuumCron: "not a cron",
	})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEmptyCronDisablesScheduler(t *testing.T) {
	s, err := maintenance.NewScheduler(maintenance.Config{Store: testStore(t)})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if !s.NextRun().IsZero() {
		t.Fatal("expected zero next run when disabled")
	}
	// Start/Stop on a disabled scheduler must be a no-op.
	s.Start(t.Context())
	s.Stop()
}
