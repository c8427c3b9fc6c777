// Command engine is the library-completion orchestrator daemon: it owns
// the scheduler (spec §4.9) and the read-only operator status surface,
// and runs until terminated.
//
// Usage:
//
//	engine
//	ADMIN_PORT=8090 engine
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/engels74/comradarr-sub004/internal/admin"
	"github.com/engels74/comradarr-sub004/internal/analytics"
	"github.com/engels74/comradarr-sub004/internal/commandmon"
	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/maintenance"
	"github.com/engels74/comradarr-sub004/internal/notify"
	"github.com/engels74/comradarr-sub004/internal/queue"
	"github.com/engels74/comradarr-sub004/internal/reconnect"
	"github.com/engels74/comradarr-sub004/internal/scheduler"
	"github.com/engels74/comradarr-sub004/internal/secret"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/sync"
	"github.com/engels74/comradarr-sub004/internal/throttle"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("connecting to database...")
	pool, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected", "min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)

	secrets, err := secret.NewStore(cfg.SecretKeyHex)
	if err != nil {
		logger.Error("failed to initialize secret store", "error", err)
		os.Exit(1)
	}

	clock := timeutil.RealClock{}
	enforcer := throttle.New(cfg, clock)
	collector := analytics.New(clock, logger)
	senders := notify.NewFactory(http.DefaultClient)

	deps := &scheduler.Deps{
		DB:         pool,
		Config:     cfg,
		Clock:      clock,
		Logger:     logger,
		Secrets:    secrets,
		Enforcer:   enforcer,
		Reconnect:  reconnect.New(cfg, clock),
		Queue:      queue.New(cfg, enforcer, clock, logger).WithCollector(collector),
		Commands:   commandmon.New(clock, logger),
		Syncer:     sync.New(logger),
		Collector:  collector,
		Aggregator: analytics.NewAggregator(),
		Maintainer: maintenance.New(cfg, clock, logger),
		Dispatcher: notify.NewDispatcher(senders, secrets, clock, logger),
		Batcher:    notify.NewBatcher(senders, secrets, clock, logger),
	}

	sched := scheduler.New(logger)
	for _, job := range scheduler.BuiltinJobs(deps) {
		if err := sched.Register(job); err != nil {
			logger.Error("failed to register built-in job", "job", job.Name, "error", err)
			os.Exit(1)
		}
	}
	if err := sched.ReloadDynamicSchedules(ctx, deps); err != nil {
		logger.Error("failed to load dynamic schedules", "error", err)
	}
	sched.Start()
	logger.Info("scheduler started")

	router := admin.NewRouter(pool, sched, cfg)
	addr := fmt.Sprintf("%s:%d", cfg.AdminHost, cfg.AdminPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting admin status surface", "addr", addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	sched.Shutdown(cfg.ShutdownGracePeriod)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	logger.Info("engine stopped")
}
