package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/auction-intel/internal/app"
	"github.com/rickgao/auction-intel/internal/config"
	"github.com/rickgao/auction-intel/internal/queue"
	"github.com/rickgao/auction-intel/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/server.local.yaml", "path to config file")
	force := flag.Bool("force", false, "reset every listing to pending and enrich all of them")
	id := flag.Int64("id", 0, "enrich a single listing")
	flag.Parse()

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

	logger.Info("starting enrichment",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *id > 0 {
		res, err := a.Enricher.Enrich(ctx, *id)
		if err != nil {
			logger.Error("enrichment failed", "auction_id", *id, "error", err)
			os.Exit(1)
		}
		logger.Info("enriched",
			"auction_id", *id,
			"manufacturer", deref(res.Listing.Manufacturer),
			"model", deref(res.Listing.Model),
			"category", deref(res.Listing.Category),
		)
		return
	}

	var stats queue.Stats
	if *force {
		stats, err = a.Queue.ReEnrichAll(ctx)
	} else {
		if _, err = a.Queue.Reconcile(ctx); err == nil {
			stats, err = a.Queue.ProcessQueue(ctx)
		}
	}
	if err != nil {
		logger.Error("enrichment run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("enrichment complete",
		"total", stats.Total,
		"successful", stats.Successful,
		"failed", stats.Failed,
		"attempts", stats.Attempts,
	)
	for _, e := range stats.Errors {
		logger.Warn("enrichment error", "auction_id", e.ID, "retries", e.Retries, "error", e.Error)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
