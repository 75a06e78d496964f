package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskcal-dev/taskcal/internal/auth"
	"github.com/taskcal-dev/taskcal/internal/config"
	"github.com/taskcal-dev/taskcal/internal/httpserver"
	"github.com/taskcal-dev/taskcal/internal/scheduler"
	"github.com/taskcal-dev/taskcal/internal/store"
)

func main() {
	slog.Info("starting taskcal server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		slog.Error("failed to create db pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		slog.Error("failed to apply migrations", "err", err)
		os.Exit(1)
	}

	st := store.New(pool)
	authService := auth.NewService(st)

	var sched *scheduler.Scheduler
	if cfg.Reminders.Enabled {
		sched = scheduler.New(st.Reminders, scheduler.LogNotifier{}, cfg.Reminders.Lookahead)
		if err := sched.Start(ctx, cfg.Reminders.Spec); err != nil {
			slog.Error("failed to start reminder scheduler", "err", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpserver.NewRouter(cfg, st, authService),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("graceful shutdown failed", "err", err)
	}
}
