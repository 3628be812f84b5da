// Package maintenance runs periodic housekeeping on the clone database,
// driven by a cron schedule from the config.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/flashing/seafile/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the maintenance scheduler.
type Config struct {
	Store      *persistence.Store
	Logger     *slog.Logger
	VacuumCron string        // 5-field cron expression; empty disables vacuum
	Interval   time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires the vacuum job whenever its cron schedule comes due.
type Scheduler struct {
	store    *persistence.Store
	logger   *slog.Logger
	schedule cronlib.Schedule
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a Scheduler. An empty cron expression yields a
// scheduler that never fires; an unparseable one returns the parse error.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		store:    cfg.Store,
		logger:   logger,
		interval: interval,
	}
	if cfg.VacuumCron != "" {
		sched, err := cronParser.Parse(cfg.VacuumCron)
		if err != nil {
			return nil, err
		}
		s.schedule = sched
		s.nextRun = sched.Next(time.Now())
	}
	return s, nil
}

// NextRun returns the next scheduled vacuum time; zero when disabled.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	if s.schedule == nil {
		s.logger.Info("maintenance disabled, no vacuum schedule")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started", "next_run", s.NextRun())
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick fires the vacuum job when its schedule has come due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := !s.nextRun.IsZero() && !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()

	if !due {
		return
	}

	if err := s.store.Vacuum(ctx); err != nil {
		s.logger.Error("vacuum failed", "error", err)
		return
	}
	s.logger.Info("clone db vacuumed", "next_run", s.NextRun())
}
