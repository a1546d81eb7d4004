package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrwolf/adventure-server/internal/api"
	"github.com/mrwolf/adventure-server/internal/app"
	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/scheduler"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting adventure-server",
		"port", cfg.Port,
		"db", cfg.DBPath,
		"game", cfg.GameConfig,
	)

	a, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(a.Providers, a.Sessions, a.DB, scheduler.Config{},
		scheduler.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Check providers once before serving; failures only warn
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sched.CheckProviders(ctx)
	cancel()

	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	deps := api.Deps{
		Config:   cfg,
		Sessions: a.Sessions,
		Store:    a.DB,
		Health:   sched,
		Jobs:     a.DB,
		Logger:   logger,
	}
	if a.Archive != nil {
		deps.Transcripts = a.Archive
	}
	router := api.NewRouter(deps)

	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-done
	slog.Info("shutting down gracefully", "signal", sig.String())

	// Give ongoing turns 30 seconds to complete; narration is slow
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("stopping scheduler")
	if err := sched.Stop(); err != nil {
		slog.Error("scheduler shutdown error", "error", err)
	}

	slog.Info("closing providers and database")
	if err := a.Close(); err != nil {
		slog.Error("close error", "error", err)
	}

	slog.Info("shutdown complete")
}
