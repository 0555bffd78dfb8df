// Package main is the entry point for the query gateway binary. The
// gateway wraps the asynchronous query client in a local HTTP API with
// request logging, rate limiting, CORS, and SQLite-backed run history.
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

	"sdlq/internal/config"
	"sdlq/internal/gateway"
	"sdlq/internal/history"
	"sdlq/internal/logredact"
	"sdlq/internal/sdl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := logredact.NewRegistry()
	registry.Register(cfg.AuthToken)
	logger := slog.New(logredact.New(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
		registry,
	))
	slog.SetDefault(logger)

	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}
	// Re-run the bypass check so the audit trail lands in the structured
	// log rather than only in the load-time error path.
	if err := sdl.ValidateTLSBypassConfig(cfg.SkipTLSVerify, cfg.Environment, logger); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := gateway.ValidateListenAddr(cfg.ListenAddr, cfg.AllowRemoteAccess); err != nil {
		return err
	}
	cfg.LogSummary(logger)

	store, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	router, err := gateway.NewRouter(gateway.Config{
		Settings: cfg,
		History:  store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// A run request holds the connection for the whole poll, which the
		// query TTL bounds.
		WriteTimeout: cfg.QueryTTL() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("gateway shutdown failed", "error", err)
		}
	}()

	logger.Info("gateway listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}
