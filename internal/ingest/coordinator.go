// Package ingest implements the scrape coordinator: it walks the configured
// auction sources one at a time, extracts candidate lots, deduplicates them
// against the store by canonical URL and queues new listings for enrichment.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

var (
	// ErrScrapeInProgress is returned when a run is requested while one is active.
	ErrScrapeInProgress = errors.New("scrape already in progress")
	// ErrScrapeFailed is returned when a single-URL scrape cannot reach the page.
	ErrScrapeFailed = errors.New("failed to scrape url")
	// ErrNoAuctionData is returned when a page holds no recognizable lot.
	ErrNoAuctionData = errors.New("no auction data found at url")
)

// ManualSourceName is the source recorded for ad-hoc single-URL scrapes.
const ManualSourceName = "Manual Entry"

// DefaultMaxExtractURLs caps pages extracted per source on a cache hit.
const DefaultMaxExtractURLs = 20

// Store is the subset of the listing store the coordinator writes.
type Store interface {
	GetListingByURL(ctx context.Context, url string) (model.AuctionListing, error)
	InsertListing(ctx context.Context, l model.AuctionListing) (int64, error)
	UpdateVolatile(ctx context.Context, id int64, currentBid *float64, at time.Time) error
}

// SiteCache remembers the page URLs discovered per source.
type SiteCache interface {
	GetSiteMap(ctx context.Context, sourceURL string) (*model.SiteCacheEntry, error)
	SaveSiteMap(ctx context.Context, sourceURL, sourceName string, urls []string, firearmsFound int) error
	GetNewURLs(ctx context.Context, sourceURL string, current []string) []string
}

// Enqueuer accepts new listings for enrichment.
type Enqueuer interface {
	Add(auctionID int64, priority model.Priority) bool
}

// Coordinator runs scrape passes over a fixed source list.
type Coordinator struct {
	store         Store
	extractor     Extractor
	cache         SiteCache
	queue         Enqueuer
	sources       []Source
	maxExtract    int
	allowExternal bool
	now           func() time.Time
	logger        *slog.Logger

	running  atomic.Bool
	progress *progressTracker
	wg       sync.WaitGroup

	mu      sync.Mutex
	lastRun RunStats
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSources replaces the default source catalogue.
func WithSources(sources []Source) Option {
	return func(c *Coordinator) {
		if len(sources) > 0 {
			c.sources = sources
		}
	}
}

// WithMaxExtractURLs caps pages extracted per source on a cache hit.
func WithMaxExtractURLs(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxExtract = n
		}
	}
}

// WithAllowExternal keeps candidates whose URL is on another domain than the
// source.
func WithAllowExternal(allow bool) Option {
	return func(c *Coordinator) { c.allowExternal = allow }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a Coordinator. cache and queue may be nil.
func NewCoordinator(st Store, extractor Extractor, cache SiteCache, queue Enqueuer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      st,
		extractor:  extractor,
		cache:      cache,
		queue:      queue,
		sources:    DefaultSources(),
		maxExtract: DefaultMaxExtractURLs,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.progress = newProgressTracker(len(c.sources))
	return c
}

// Sources returns the configured source list.
func (c *Coordinator) Sources() []Source {
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Progress returns the latest progress snapshot.
func (c *Coordinator) Progress() Progress {
	return c.progress.Load()
}

// LastRunStats returns the statistics of the most recent run.
func (c *Coordinator) LastRunStats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun.clone()
}

// IsRunning reports whether a run is active.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// StartScrape runs ScrapeAllSources in the background. It returns false when
// a run is already active.
func (c *Coordinator) StartScrape(ctx context.Context) bool {
	if !c.running.CompareAndSwap(false, true) {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		c.scrapeAll(ctx)
	}()
	return true
}

// Wait blocks until a background run started by StartScrape finishes or ctx
// is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScrapeAllSources scrapes every source in order and returns the listings
// saved. A failing source is recorded in its stats and the run moves on; the
// only error is ErrScrapeInProgress.
func (c *Coordinator) ScrapeAllSources(ctx context.Context) ([]model.AuctionListing, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrScrapeInProgress
	}
	defer c.running.Store(false)
	return c.scrapeAll(ctx), nil
}

func (c *Coordinator) scrapeAll(ctx context.Context) []model.AuctionListing {
	runID := uuid.NewString()
	started := c.now()

	c.mu.Lock()
	c.lastRun = RunStats{RunID: runID, StartedAt: started}
	c.mu.Unlock()

	c.progress.update(func(p *Progress) {
		*p = Progress{
			RunID:         runID,
			IsActive:      true,
			CurrentSource: "Starting...",
			TotalSources:  len(c.sources),
			StartedAt:     &started,
			Version:       p.Version,
		}
	})

	c.logger.Info("scrape run started", "run_id", runID, "sources", len(c.sources))

	var saved []model.AuctionListing
	for i, src := range c.sources {
		if ctx.Err() != nil {
			c.logger.Warn("scrape run cancelled", "run_id", runID, "completed_sources", i)
			break
		}

		c.progress.update(func(p *Progress) {
			p.CurrentSource = src.Name
			p.CompletedSources = i
		})

		listings, stats := c.scrapeSource(ctx, runID, src)
		saved = append(saved, listings...)

		c.mu.Lock()
		c.lastRun.Sources = append(c.lastRun.Sources, stats)
		c.mu.Unlock()

		c.progress.update(func(p *Progress) {
			p.CompletedSources = i + 1
		})
	}

	finished := c.now()
	c.mu.Lock()
	c.lastRun.FinishedAt = finished
	run := c.lastRun.clone()
	c.mu.Unlock()

	c.progress.update(func(p *Progress) {
		p.IsActive = false
		p.CurrentSource = ""
		p.FinishedAt = &finished
	})

	discovered, savedCount := run.Totals()
	c.logger.Info("scrape run complete",
		"run_id", runID,
		"listings", len(saved),
		"discovered", discovered,
		"saved", savedCount,
		"duration", finished.Sub(started),
	)
	for _, m := range run.Coverage() {
		if m.CoveragePercentage < 100 {
			c.logger.Warn("incomplete source coverage",
				"source", m.Source,
				"coverage", m.CoveragePercentage,
				"saved", m.Saved,
				"discovered", m.Discovered,
			)
		}
	}
	return saved
}

// scrapeSource extracts and saves one source. It never fails; problems land
// in the returned stats.
func (c *Coordinator) scrapeSource(ctx context.Context, runID string, src Source) ([]model.AuctionListing, SourceStats) {
	start := c.now()
	stats := SourceStats{
		RunID:       runID,
		Source:      src.Name,
		Timestamp:   start,
		MissingURLs: []string{},
	}
	logger := c.logger.With("source", src.Name, "run_id", runID)

	cands, cacheHit, err := c.collect(ctx, src, logger)
	stats.CacheHit = cacheHit
	if err != nil {
		stats.FailedScrapes = 1
		stats.Error = err.Error()
		logger.Error("source scrape failed", "err", err)
		stats.Duration = c.now().Sub(start)
		return nil, stats
	}

	stats.Discovered = len(cands)
	stats.Processed = len(cands)

	var saved []model.AuctionListing
	for _, cand := range cands {
		url, ok := c.candidateURL(src, cand)
		if !ok {
			stats.Skipped++
			continue
		}

		listing, inserted, err := c.save(ctx, src, url, cand)
		if err != nil {
			stats.FailedSaves++
			stats.MissingURLs = append(stats.MissingURLs, url)
			logger.Warn("failed to save auction", "url", url, "err", err)
			continue
		}
		stats.Saved++
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
		saved = append(saved, listing)
	}
	stats.Duration = c.now().Sub(start)

	logger.Info("source scraped",
		"discovered", stats.Discovered,
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed_saves", stats.FailedSaves,
		"cache_hit", stats.CacheHit,
		"duration", stats.Duration,
	)
	return saved, stats
}

// collect returns the candidates for one source. With a valid site map only
// pages not seen before are extracted; otherwise the whole site is extracted
// and the discovered URL set is cached.
func (c *Coordinator) collect(ctx context.Context, src Source, logger *slog.Logger) ([]Candidate, bool, error) {
	if c.cache != nil {
		entry, err := c.cache.GetSiteMap(ctx, src.URL)
		if err != nil {
			logger.Warn("site cache lookup failed", "err", err)
		}
		if entry != nil {
			current, err := c.extractor.Discover(ctx, src.URL)
			if err != nil {
				return nil, true, err
			}
			newURLs := c.cache.GetNewURLs(ctx, src.URL, c.canonicalLinks(src, current))
			if len(newURLs) == 0 {
				logger.Info("no new pages, skipping source", "cached_urls", len(entry.DiscoveredURLs))
				return nil, true, nil
			}
			if len(newURLs) > c.maxExtract {
				newURLs = newURLs[:c.maxExtract]
			}
			logger.Debug("extracting new pages", "pages", len(newURLs))
			cands, err := c.extractor.ExtractPages(ctx, newURLs)
			return cands, true, err
		}
	}

	cands, err := c.extractor.ExtractSite(ctx, src)
	if err != nil {
		return nil, false, err
	}

	if c.cache != nil {
		urls := make([]string, 0, len(cands))
		for _, cand := range cands {
			if u, ok := c.candidateURL(src, cand); ok {
				urls = append(urls, u)
			}
		}
		if err := c.cache.SaveSiteMap(ctx, src.URL, src.Name, urls, len(cands)); err != nil {
			logger.Warn("failed to save site map", "err", err)
		}
	}
	return cands, false, nil
}

// canonicalLinks canonicalizes discovered links, dropping off-site and
// duplicate ones.
func (c *Coordinator) canonicalLinks(src Source, links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		u, err := CanonicalURL(src.URL, link)
		if err != nil {
			continue
		}
		if !c.allowExternal && !SameSite(src.URL, u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// candidateURL returns the canonical URL for a candidate, or false when it
// has none or points off the source's site.
func (c *Coordinator) candidateURL(src Source, cand Candidate) (string, bool) {
	if cand.URL == "" || cand.Title == "" {
		return "", false
	}
	u, err := CanonicalURL(src.URL, cand.URL)
	if err != nil {
		return "", false
	}
	if !c.allowExternal && src.URL != "" && !SameSite(src.URL, u) {
		return "", false
	}
	return u, true
}

// save inserts a new listing and queues it, or refreshes the volatile fields
// of an existing one. Enrichment-derived fields are never touched here.
func (c *Coordinator) save(ctx context.Context, src Source, url string, cand Candidate) (model.AuctionListing, bool, error) {
	existing, err := c.store.GetListingByURL(ctx, url)
	switch {
	case err == nil:
		now := c.now()
		if err := c.store.UpdateVolatile(ctx, existing.ID, cand.CurrentBid, now); err != nil {
			return model.AuctionListing{}, false, fmt.Errorf("update auction %d: %w", existing.ID, err)
		}
		if cand.CurrentBid != nil {
			existing.CurrentBid = cand.CurrentBid
		}
		existing.UpdatedAt = now
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return model.AuctionListing{}, false, fmt.Errorf("lookup %s: %w", url, err)
	}

	listing := cand.Listing(src, url)
	now := c.now()
	listing.ScrapedAt = now
	listing.UpdatedAt = now

	id, err := c.store.InsertListing(ctx, listing)
	if err != nil {
		return model.AuctionListing{}, false, fmt.Errorf("insert %s: %w", url, err)
	}
	listing.ID = id

	if c.queue != nil {
		c.queue.Add(id, model.PriorityNormal)
	}
	return listing, true, nil
}

// ScrapeByURL ingests a single lot page with the same dedup and enqueue
// behavior as a full run.
func (c *Coordinator) ScrapeByURL(ctx context.Context, rawURL string) (model.AuctionListing, error) {
	url, err := CanonicalURL("", rawURL)
	if err != nil {
		return model.AuctionListing{}, fmt.Errorf("scrape %q: %w", rawURL, err)
	}

	cands, err := c.extractor.ExtractPages(ctx, []string{url})
	if err != nil {
		return model.AuctionListing{}, fmt.Errorf("%w: %s: %w", ErrScrapeFailed, url, err)
	}
	if len(cands) == 0 {
		return model.AuctionListing{}, fmt.Errorf("%s: %w", url, ErrNoAuctionData)
	}

	cand := cands[0]
	if cand.Title == "" {
		return model.AuctionListing{}, fmt.Errorf("%s: %w", url, ErrNoAuctionData)
	}

	cand.URL = url
	if cand.AuctionHouse == "" {
		cand.AuctionHouse = registrableDomain(url)
	}
	listing, inserted, err := c.save(ctx, Source{Name: ManualSourceName}, url, cand)
	if err != nil {
		return model.AuctionListing{}, err
	}

	c.logger.Info("url scraped", "url", url, "auction_id", listing.ID, "inserted", inserted)
	return listing, nil
}
