// Package app assembles the services described by a ServiceConfig. The
// server, scrape and enrich binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rickgao/auction-intel/internal/alerts"
	"github.com/rickgao/auction-intel/internal/analytics"
	"github.com/rickgao/auction-intel/internal/api"
	"github.com/rickgao/auction-intel/internal/browser"
	"github.com/rickgao/auction-intel/internal/config"
	"github.com/rickgao/auction-intel/internal/database"
	"github.com/rickgao/auction-intel/internal/enrich"
	"github.com/rickgao/auction-intel/internal/ingest"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/queue"
	"github.com/rickgao/auction-intel/internal/scheduler"
	"github.com/rickgao/auction-intel/internal/sitecache"
	"github.com/rickgao/auction-intel/internal/store"
)

const retryBackoff = time.Second

// App holds the wired services.
type App struct {
	Config      *config.ServiceConfig
	Store       store.Store
	SiteCache   *sitecache.Cache
	Enricher    *enrich.Service
	Queue       *queue.Queue
	Coordinator *ingest.Coordinator
	Analytics   *analytics.Engine
	Alerts      *alerts.Engine

	logger *slog.Logger
}

// NewLogger builds the text logger every binary uses.
func NewLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

// Build opens the store and wires every service on top of it. ctx bounds
// startup work and is the context auto-started queue drains run under.
func Build(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	aiClient := api.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey,
		api.WithTimeout(cfg.AI.Timeout),
		api.WithRetries(cfg.AI.MaxRetries, retryBackoff),
		api.WithLogger(logger.With("client", "ai")),
	)

	extractor, err := newExtractor(cfg, aiClient, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	enricher := enrich.New(st, aiClient,
		enrich.WithModel(cfg.AI.Model),
		enrich.WithTemperature(*cfg.AI.Temperature),
		enrich.WithLogger(logger),
	)

	q := queue.New(queue.Config{
		MaxConcurrent: cfg.Enrichment.MaxConcurrent,
		MaxRetries:    *cfg.Enrichment.MaxRetries,
		BatchDelay:    cfg.Enrichment.BatchDelay,
		StaleAfter:    cfg.Enrichment.StaleAfter,
	}, enricher, st, queue.WithLogger(logger))

	var enqueuer ingest.Enqueuer = q
	if cfg.Enrichment.AutoStartEnabled() {
		enqueuer = &autoStart{ctx: ctx, queue: q}
	}

	cache := sitecache.New(st,
		sitecache.WithTTL(cfg.Scrape.CacheTTL),
		sitecache.WithLogger(logger),
	)

	coordinator := ingest.NewCoordinator(st, extractor, cache, enqueuer,
		ingest.WithSources(Sources(cfg.Scrape.Sources)),
		ingest.WithMaxExtractURLs(cfg.Scrape.MaxExtractURLs),
		ingest.WithAllowExternal(cfg.Scrape.AllowExternal),
		ingest.WithLogger(logger),
	)

	return &App{
		Config:      cfg,
		Store:       st,
		SiteCache:   cache,
		Enricher:    enricher,
		Queue:       q,
		Coordinator: coordinator,
		Analytics: analytics.New(st,
			analytics.WithMinComparables(cfg.Analytics.MinComparables),
			analytics.WithComparableLimit(cfg.Analytics.ComparableLimit),
			analytics.WithLogger(logger),
		),
		Alerts: alerts.New(st,
			alerts.WithLookback(cfg.Alerts.Lookback),
			alerts.WithLogger(logger),
		),
		logger: logger,
	}, nil
}

// Close releases the store.
func (a *App) Close() {
	a.Store.Close()
}

// Jobs returns the periodic jobs enabled by the scheduler config.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: "refresh", Interval: a.Config.Scheduler.RefreshInterval, Run: a.Refresh},
		{Name: "alerts", Interval: a.Config.Scheduler.AlertInterval, Run: a.processAlerts},
	}
}

// Refresh scrapes every source and then drains the enrichment queue.
func (a *App) Refresh(ctx context.Context) error {
	listings, err := a.Coordinator.ScrapeAllSources(ctx)
	if err != nil {
		return fmt.Errorf("scrape sources: %w", err)
	}
	stats, err := a.Queue.ProcessQueue(ctx)
	if errors.Is(err, queue.ErrAlreadyProcessing) {
		// The auto-started drain picks up what the scrape queued.
		return nil
	}
	if err != nil {
		return fmt.Errorf("process queue: %w", err)
	}
	a.logger.Info("refresh complete",
		"listings", len(listings),
		"enriched", stats.Successful,
		"enrich_failed", stats.Failed,
	)
	return nil
}

func (a *App) processAlerts(ctx context.Context) error {
	res, err := a.Alerts.ProcessAlerts(ctx)
	if err != nil {
		return err
	}
	if res.TotalMatches > 0 {
		a.logger.Info("alerts processed",
			"matches", res.TotalMatches,
			"sent", res.AlertsSent,
			"errors", res.Errors,
		)
	}
	return nil
}

// Sources converts configured sources, falling back to the built-in
// catalogue when none are set.
func Sources(cfgs []config.SourceConfig) []ingest.Source {
	if len(cfgs) == 0 {
		return ingest.DefaultSources()
	}
	out := make([]ingest.Source, 0, len(cfgs))
	for _, s := range cfgs {
		out = append(out, ingest.Source{
			Name:     s.Name,
			URL:      s.URL,
			City:     s.City,
			State:    s.State,
			Category: s.Category,
		})
	}
	return out
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	logger.Info("connecting to database",
		"host", cfg.Postgres.Host,
		"port", cfg.Postgres.Port,
		"database", cfg.Postgres.Name,
	)
	pool, err := database.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.MigrateEnabled() {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	logger.Info("database connected")
	return store.NewPostgres(pool, logger), nil
}

func newExtractor(cfg *config.ServiceConfig, ai *api.Client, logger *slog.Logger) (ingest.Extractor, error) {
	switch cfg.Scrape.Provider {
	case config.ProviderFirecrawl:
		client := api.NewClient(cfg.Scrape.BaseURL, cfg.Scrape.APIKey,
			api.WithTimeout(cfg.Scrape.Timeout),
			api.WithRetries(cfg.Scrape.MaxRetries, retryBackoff),
			api.WithLogger(logger.With("client", "scrape")),
		)
		return ingest.NewFirecrawlExtractor(client, cfg.Scrape.AllowExternal), nil
	case config.ProviderBrowser:
		fetcher := browser.New(
			browser.WithWait(cfg.Scrape.Wait),
			browser.WithTimeout(cfg.Scrape.Timeout),
			browser.WithLogger(logger),
		)
		return ingest.NewBrowserExtractor(fetcher, ai, cfg.AI.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown scrape provider %q", cfg.Scrape.Provider)
	}
}

// autoStart kicks off a background drain whenever a listing is queued.
type autoStart struct {
	ctx   context.Context
	queue *queue.Queue
}

func (a *autoStart) Add(auctionID int64, priority model.Priority) bool {
	added := a.queue.Add(auctionID, priority)
	if added {
		a.queue.StartProcessing(a.ctx)
	}
	return added
}
