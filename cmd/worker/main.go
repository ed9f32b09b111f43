// Package main is the entry point for the guildpost worker.
//
// The worker drives the two polling loops for the process lifetime: the
// reminder dispatch loop (scan the notifications collection for due
// reminders and fire them) and the redeem coordination loop (fan pending
// redeem tasks out to runner subprocesses and report per batch). An ops
// HTTP server exposes /health and /status alongside them.
//
// Startup sequence:
//  1. Load and validate configuration (fail fast).
//  2. Initialize the structured logger.
//  3. Open the pgx connection pool and verify connectivity.
//  4. Build the Discord client, repositories, and both loop bodies.
//  5. Run loops and ops server under one errgroup.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM):
// cancelling the root context stops both loops after their in-flight pass
// and drains the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"guildpost/internal/config"
	"guildpost/internal/db"
	"guildpost/internal/discord"
	"guildpost/internal/notify"
	"guildpost/internal/ops"
	"guildpost/internal/redeem"
	"guildpost/internal/scheduler"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("guildpost worker starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"notify_interval", cfg.Poller.NotifyInterval.String(),
		"redeem_interval", cfg.Poller.RedeemInterval.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	chat := discord.NewClient(cfg.Discord, logger)

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Lookback:  cfg.Poller.NotifyLookback,
		Lookahead: cfg.Poller.NotifyLookahead,
		Store:     db.NewReminderRepository(pool),
		Resolver:  chat,
		Sender:    chat,
		Logger:    logger,

		AuditChannelID: cfg.Discord.LogChannelID,
	})

	coordinator := redeem.NewCoordinator(redeem.CoordinatorConfig{
		Store:         db.NewRedeemTaskRepository(pool),
		Audit:         db.NewRedeemLogRepository(pool),
		Runner:        redeem.NewExecRunner(cfg.Runner),
		Sender:        chat,
		Logger:        logger,
		RunnerTimeout: cfg.Poller.RunnerTimeout,
		Concurrency:   cfg.Poller.RunnerConcurrency,
		ReportLimit:   cfg.Poller.ReportLimit,
	})

	notifyLoop := scheduler.NewLoop("notify", cfg.Poller.NotifyInterval, dispatcher.RunOnce, logger)
	redeemLoop := scheduler.NewLoop("redeem", cfg.Poller.RedeemInterval, coordinator.RunOnce, logger)

	opsServer := ops.NewServer(
		[]ops.HealthProbe{
			ops.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		},
		[]ops.StatsSource{notifyLoop, redeemLoop},
		logger,
	)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           opsServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return notifyLoop.Run(gctx) })
	g.Go(func() error { return redeemLoop.Run(gctx) })

	g.Go(func() error {
		logger.Info("ops server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("guildpost worker stopped")
	return err
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
