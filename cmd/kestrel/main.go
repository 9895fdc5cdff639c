// Kestrel - Rule-based fraud scoring for payment transactions.
// Copyright (c) 2025 openrisk
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/openrisk/kestrel/internal/alerts"
	"github.com/openrisk/kestrel/internal/api"
	"github.com/openrisk/kestrel/internal/bus"
	"github.com/openrisk/kestrel/internal/cache"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/metrics"
	"github.com/openrisk/kestrel/internal/processor"
	"github.com/openrisk/kestrel/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"score_threshold", cfg.Scoring.Threshold,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize metrics
	collector := metrics.NewCollector()

	// Initialize the scoring processor and seed default rules
	proc := processor.New(repo, cacheImpl, busImpl, collector, cfg.Scoring)
	if err := proc.Bootstrap(ctx); err != nil {
		slog.Error("failed to seed rules", "error", err)
		os.Exit(1)
	}
	slog.Info("processor initialized", "score_threshold", cfg.Scoring.Threshold)

	// Initialize the webhook alert notifier
	notifier := alerts.New(busImpl, cfg.Alerts)
	if err := notifier.Start(ctx); err != nil {
		slog.Error("failed to start alert notifier", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, proc, collector, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the notifier first so in-flight webhook deliveries finish
	if err := notifier.Stop(); err != nil {
		slog.Error("failed to stop alert notifier", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides layers KESTREL_* environment settings on top of the
// tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_SCORE_THRESHOLD"); v != "" {
		if threshold, err := strconv.Atoi(v); err == nil && threshold > 0 {
			cfg.Scoring.Threshold = threshold
		} else {
			slog.Warn("ignoring invalid KESTREL_SCORE_THRESHOLD", "value", v)
		}
	}
	if v := os.Getenv("KESTREL_WEBHOOK_URLS"); v != "" {
		for _, url := range strings.Split(v, ",") {
			if url = strings.TrimSpace(url); url != "" {
				cfg.Alerts.WebhookURLs = append(cfg.Alerts.WebhookURLs, url)
			}
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║        Fraud Scoring Engine               ║")
	fmt.Println("  ║      Every transaction, scored.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/transactions      - Ingest and score a transaction")
	fmt.Println("    GET  /api/v1/transactions      - List recent transactions")
	fmt.Println("    GET  /api/v1/transactions/{id} - Get transaction with rule hits")
	fmt.Println("    GET  /api/v1/fraud/alerts      - List flagged transactions")
	fmt.Println("    GET  /api/v1/rules             - List fraud rules")
	fmt.Println("    POST /api/v1/rules             - Create or replace a rule")
	fmt.Println("    GET  /api/v1/stats             - Aggregate counters")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println("    GET  /metrics                  - Prometheus metrics")
	fmt.Println()
}
