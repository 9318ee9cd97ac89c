package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/auction-intel/internal/app"
	"github.com/rickgao/auction-intel/internal/config"
	"github.com/rickgao/auction-intel/internal/httpapi"
	"github.com/rickgao/auction-intel/internal/scheduler"
	"github.com/rickgao/auction-intel/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/server.local.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := app.NewLogger(cfg.Log.Level)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Reclaim jobs a previous process left in processing
	if cfg.Enrichment.AutoStartEnabled() {
		n, err := a.Queue.Reconcile(ctx)
		if err != nil {
			logger.Error("failed to reconcile enrichment queue", "error", err)
		} else if n > 0 {
			logger.Info("queued pending enrichments", "count", n)
			a.Queue.StartProcessing(ctx)
		}
	}

	jobs := scheduler.New(scheduler.DefaultConfig(), a.Jobs(), logger)
	if err := jobs.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	api := httpapi.New(httpapi.Deps{
		Store:     a.Store,
		Scraper:   a.Coordinator,
		Enricher:  a.Enricher,
		Queue:     a.Queue,
		SiteCache: a.SiteCache,
		Analytics: a.Analytics,
		Alerts:    a.Alerts,
	}, httpapi.Config{
		GeneralLimit:         cfg.Server.RateLimit.General,
		ScrapeLimit:          cfg.Server.RateLimit.Scraping,
		Window:               cfg.Server.RateLimit.Window,
		BatchConcurrency:     cfg.Enrichment.BatchConcurrency,
		OpportunityThreshold: cfg.Analytics.OpportunityThreshold,
		Environment:          os.Getenv("ENVIRONMENT"),
	}, httpapi.WithLogger(logger), httpapi.WithBaseContext(ctx))

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := jobs.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := api.Wait(shutdownCtx); err != nil {
		logger.Warn("background enrichment still running", "error", err)
	}
	if err := a.Coordinator.Wait(shutdownCtx); err != nil {
		logger.Warn("scrape still running", "error", err)
	}
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		logger.Warn("enrichment queue shutdown", "error", err)
	}

	logger.Info("server stopped")
}
