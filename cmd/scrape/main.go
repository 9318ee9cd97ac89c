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
	"github.com/rickgao/auction-intel/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/server.local.yaml", "path to config file")
	pageURL := flag.String("url", "", "scrape a single auction page instead of every source")
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

	logger.Info("starting scrape",
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

	if *pageURL != "" {
		listing, err := a.Coordinator.ScrapeByURL(ctx, *pageURL)
		if err != nil {
			logger.Error("scrape failed", "url", *pageURL, "error", err)
			os.Exit(1)
		}
		logger.Info("listing saved", "id", listing.ID, "title", listing.Title, "url", listing.URL)
	} else {
		listings, err := a.Coordinator.ScrapeAllSources(ctx)
		if err != nil {
			logger.Error("scrape failed", "error", err)
			os.Exit(1)
		}

		run := a.Coordinator.LastRunStats()
		for _, c := range run.Coverage() {
			logger.Info("source coverage",
				"source", c.Source,
				"discovered", c.Discovered,
				"saved", c.Saved,
				"coverage", c.CoveragePercentage,
			)
		}
		discovered, saved := run.Totals()
		logger.Info("scrape complete",
			"run_id", run.RunID,
			"listings", len(listings),
			"discovered", discovered,
			"saved", saved,
		)
	}

	// Auto-started enrichment drains finish before exit
	if err := a.Queue.Stop(ctx); err != nil {
		logger.Warn("enrichment interrupted", "error", err)
	}
}
