// seaf-daemon hosts the clone manager: the durable task table, the clone
// state machine, the connectivity pulse, and the HTTP status surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/flashing/seafile/internal/audit"
	"github.com/flashing/seafile/internal/bus"
	"github.com/flashing/seafile/internal/clone"
	"github.com/flashing/seafile/internal/config"
	"github.com/flashing/seafile/internal/gateway"
	"github.com/flashing/seafile/internal/maintenance"
	otelx "github.com/flashing/seafile/internal/otel"
	"github.com/flashing/seafile/internal/persistence"
	"github.com/flashing/seafile/internal/session"
	"github.com/flashing/seafile/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1.0-dev"

func main() {
	dataDir := flag.String("data-dir", "", "data directory (default ~/.seafile)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("seaf-daemon", Version)
		return
	}

	if err := run(*dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "seaf-daemon:", err)
		os.Exit(1)
	}
}

func run(dataDir string) error {
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	// Mirror logs to stdout only when attached to a terminal.
	quiet := !isatty.IsTerminal(os.Stdout.Fd())
	logger, logCloser, err := telemetry.NewLogger(cfg.DataDir, cfg.LogLevel, quiet)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProvider, err := otelx.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelx.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	if err := audit.Init(cfg.DataDir); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer audit.Close()

	store, err := persistence.Open(persistence.DefaultDBPath(cfg.DataDir))
	if err != nil {
		return fmt.Errorf("open clone db: %w", err)
	}
	defer store.Close()

	eventBus := bus.New()

	// The full client attaches its engines to the session before the
	// manager runs; a bare daemon starts with every slot detached and
	// reports it on first use.
	sess := session.New()

	mgr, err := clone.NewManager(clone.Config{
		Store:         store,
		Bus:           eventBus,
		Repos:         sess.Repos,
		Commits:       sess.Commits,
		Branches:      sess.Branches,
		Indexes:       sess.Indexes,
		Merger:        sess.Merger,
		Indexer:       sess.Indexer,
		Checkout:      sess.Checkout,
		Transfer:      sess.Transfer,
		Peers:         sess.Peers,
		Logger:        logger,
		Metrics:       metrics,
		CheckInterval: cfg.CheckConnectInterval(),
	})
	if err != nil {
		return err
	}
	if err := mgr.Init(ctx); err != nil {
		return fmt.Errorf("rehydrate clone tasks: %w", err)
	}
	mgr.Start(ctx)
	defer mgr.Stop()

	sched, err := maintenance.NewScheduler(maintenance.Config{
		Store:      store,
		Logger:     logger,
		VacuumCron: cfg.Maintenance.VacuumCron,
	})
	if err != nil {
		return fmt.Errorf("maintenance schedule: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	cfgWatcher := config.NewWatcher(cfg.DataDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	}
	go func() {
		for range cfgWatcher.Events() {
			logger.Info("config changed on disk, restart to apply")
		}
	}()

	var gw *gateway.Gateway
	if cfg.Gateway.Enabled {
		gw = gateway.New(gateway.Config{
			Addr:    cfg.Gateway.Addr,
			Token:   cfg.Gateway.Token,
			Manager: mgr,
			Logger:  logger,
		})
		if err := gw.Start(); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	}

	logger.Info("seaf-daemon started",
		"version", Version,
		"data_dir", cfg.DataDir,
		"gateway", cfg.Gateway.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if gw != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(shutdownCtx)
	}
	return nil
}
