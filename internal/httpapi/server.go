// Package httpapi exposes listings, enrichment, price intelligence and
// alerts over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rickgao/auction-intel/internal/alerts"
	"github.com/rickgao/auction-intel/internal/analytics"
	"github.com/rickgao/auction-intel/internal/enrich"
	"github.com/rickgao/auction-intel/internal/ingest"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/queue"
	"github.com/rickgao/auction-intel/internal/sitecache"
	"github.com/rickgao/auction-intel/internal/store"
)

// Store is the read side of the record store the handlers query.
type Store interface {
	GetListing(ctx context.Context, id int64) (model.AuctionListing, error)
	ListListings(ctx context.Context, f store.ListingFilter) ([]model.AuctionListing, error)
	CountListings(ctx context.Context, f store.ListingFilter) (int, error)
	ListIDs(ctx context.Context, statuses ...model.EnrichmentStatus) ([]int64, error)
	EnrichmentStats(ctx context.Context) (model.EnrichmentStats, error)
	CategoryCounts(ctx context.Context, f store.ListingFilter) ([]model.CategoryCount, error)
	Ping(ctx context.Context) error
}

// Scraper runs ingestion.
type Scraper interface {
	StartScrape(ctx context.Context) bool
	Progress() ingest.Progress
	LastRunStats() ingest.RunStats
	ScrapeByURL(ctx context.Context, url string) (model.AuctionListing, error)
}

// Enricher runs single and batch enrichment.
type Enricher interface {
	Enrich(ctx context.Context, id int64) (*enrich.Result, error)
	EnrichBatch(ctx context.Context, ids []int64, concurrency int) (enrich.BatchResult, error)
}

// QueueStatus reports the enrichment queue state.
type QueueStatus interface {
	Status() queue.Status
}

// SiteCacheStats reports site cache contents.
type SiteCacheStats interface {
	Stats(ctx context.Context) (sitecache.Stats, error)
}

// Analytics is the price intelligence engine.
type Analytics interface {
	PriceTrends(ctx context.Context, category string, days int) ([]analytics.PriceTrend, error)
	FindComparables(ctx context.Context, manufacturer, model, condition string, limit int) (analytics.PriceAnalysis, error)
	FindOpportunities(ctx context.Context, threshold float64) ([]analytics.OpportunityItem, error)
	CompetitorComparison(ctx context.Context, category string) ([]analytics.CompetitorSummary, error)
	RecordSale(ctx context.Context, s analytics.Sale) (int64, error)
	UpdateCompetitorMetrics(ctx context.Context, auctionHouse, category string, r analytics.DateRange) (*model.CompetitorMetric, error)
}

// Alerts is the alert engine.
type Alerts interface {
	CreateAlert(ctx context.Context, userID int64, alertType string, criteria model.AlertCriteria) (model.UserAlert, error)
	UpdateAlert(ctx context.Context, id int64, criteria model.AlertCriteria, active *bool) (model.UserAlert, error)
	DeleteAlert(ctx context.Context, id int64) error
	UserAlerts(ctx context.Context, userID int64) ([]model.UserAlert, error)
	RecentlyTriggered(ctx context.Context, userID int64, days int) ([]model.UserAlert, error)
	ProcessAlerts(ctx context.Context) (alerts.ProcessResult, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Store     Store
	Scraper   Scraper
	Enricher  Enricher
	Queue     QueueStatus
	SiteCache SiteCacheStats
	Analytics Analytics
	Alerts    Alerts
}

// Config holds HTTP API configuration.
type Config struct {
	GeneralLimit         int           // Requests per window per client (default: 300)
	ScrapeLimit          int           // Requests per window for refresh and enrich-all (default: 10)
	Window               time.Duration // Rate limit window (default: 1m)
	BatchConcurrency     int           // enrich-all fan-out (default: 5)
	OpportunityThreshold float64       // Dashboard opportunity threshold (default: 20)
	ProgressInterval     time.Duration // Websocket progress poll (default: 500ms)
	Environment          string        // Reported by /api/health
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GeneralLimit:         300,
		ScrapeLimit:          10,
		Window:               time.Minute,
		BatchConcurrency:     enrich.DefaultBatchConcurrency,
		OpportunityThreshold: analytics.DefaultThreshold,
		ProgressInterval:     500 * time.Millisecond,
		Environment:          "development",
	}
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time
	baseCtx  context.Context
	upgrader websocket.Upgrader

	general *rateLimiter
	scrape  *rateLimiter

	wg sync.WaitGroup // background enrich-all runs
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithBaseContext sets the context background runs started by requests
// inherit. Cancelling it stops them and closes websocket streams.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// New creates a Server. Zero config fields take their defaults.
func New(deps Deps, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.GeneralLimit <= 0 {
		cfg.GeneralLimit = def.GeneralLimit
	}
	if cfg.ScrapeLimit <= 0 {
		cfg.ScrapeLimit = def.ScrapeLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.OpportunityThreshold <= 0 {
		cfg.OpportunityThreshold = def.OpportunityThreshold
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.Environment == "" {
		cfg.Environment = def.Environment
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  slog.Default(),
		now:     time.Now,
		baseCtx: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.general = newRateLimiter(cfg.GeneralLimit, cfg.Window, s.now)
	s.scrape = newRateLimiter(cfg.ScrapeLimit, cfg.Window, s.now)
	return s
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	// Health checks stay outside the rate limit.
	r.Get("/api/ping", s.handlePing)
	r.Get("/api/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.general.middleware)

		r.Route("/firearms", func(r chi.Router) {
			r.Get("/auctions", s.handleListAuctions)
			r.Get("/auctions/{id}", s.handleGetAuction)
			r.With(s.scrape.middleware).Post("/refresh", s.handleRefresh)
			r.With(s.scrape.middleware).Post("/scrape-url", s.handleScrapeURL)
			r.Get("/scrape-progress", s.handleScrapeProgress)
			r.Get("/scrape-progress/ws", s.handleProgressStream)
			r.Get("/scrape-stats", s.handleScrapeStats)
			r.Post("/enrich/{id}", s.handleEnrich)
			r.With(s.scrape.middleware).Post("/enrich-all", s.handleEnrichAll)
			r.Get("/enrichment-stats", s.handleEnrichmentStats)
			r.Get("/enrichment-queue", s.handleQueueStatus)
			r.Get("/ending-soon", s.handleEndingSoon)
			r.Get("/categories", s.handleCategories)
			r.Get("/site-cache", s.handleSiteCache)
		})

		r.Route("/intelligence", func(r chi.Router) {
			r.Get("/competitors", s.handleCompetitors)
			r.Post("/competitors/snapshot", s.handleCompetitorSnapshot)
			r.Get("/pricing/{category}", s.handlePricing)
			r.Get("/trends", s.handleTrends)
			r.Get("/opportunities", s.handleOpportunities)
			r.Get("/price-history", s.handlePriceHistory)
			r.Post("/sales", s.handleRecordSale)
		})

		r.Get("/analytics/dashboard", s.handleDashboard)

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.handleCreateAlert)
			r.Get("/", s.handleListAlerts)
			r.Get("/triggered", s.handleTriggeredAlerts)
			r.Post("/process", s.handleProcessAlerts)
			r.Put("/{id}", s.handleUpdateAlert)
			r.Delete("/{id}", s.handleDeleteAlert)
		})
	})

	return r
}

// Wait blocks until background runs started by requests finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": status < 400,
		"message": message,
	})
}

// writeError maps err onto a status code. Internal errors are logged and
// reported generically.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, alerts.ErrInvalidAlert):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ingest.ErrNoAuctionData):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingest.ErrScrapeFailed):
		writeMessage(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// -----------------------------------------------------------------------------
// Request parsing
// -----------------------------------------------------------------------------

const maxBodyBytes = 1 << 20

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, badRequest("invalid %s %q", name, raw)
	}
	return &f, nil
}

func queryBool(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true"
}
