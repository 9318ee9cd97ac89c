// Package sitecache remembers the page URLs discovered per source so that
// unchanged sites are not re-extracted within the TTL.
package sitecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

// DefaultTTL is how long a saved site map stays valid.
const DefaultTTL = 24 * time.Hour

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries   int `json:"totalEntries"`
	ValidEntries   int `json:"validEntries"`
	ExpiredEntries int `json:"expiredEntries"`
	TotalURLs      int `json:"totalUrls"`
	FirearmsFound  int `json:"firearmsFound"`
}

// Cache is the site cache service.
type Cache struct {
	store  store.SiteCacheStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Cache over the given store.
func New(s store.SiteCacheStore, opts ...Option) *Cache {
	c := &Cache{
		store:  s,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSiteMap returns the entry for sourceURL, or nil when it is missing or expired.
func (c *Cache) GetSiteMap(ctx context.Context, sourceURL string) (*model.SiteCacheEntry, error) {
	e, err := c.store.GetSiteCache(ctx, sourceURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get site map: %w", err)
	}
	if !e.Valid(c.now()) {
		c.logger.Debug("site map expired", "source_url", sourceURL, "expired_at", e.ExpiresAt)
		return nil, nil
	}
	return &e, nil
}

// SaveSiteMap upserts the discovered URL set and starts a new TTL window.
func (c *Cache) SaveSiteMap(ctx context.Context, sourceURL, sourceName string, urls []string, firearmsFound int) error {
	now := c.now()
	entry := model.SiteCacheEntry{
		SourceURL:      sourceURL,
		SourceName:     sourceName,
		DiscoveredURLs: dedupe(urls),
		LastScraped:    now,
		ExpiresAt:      now.Add(c.ttl),
		FirearmsFound:  firearmsFound,
	}
	entry.AuctionCount = len(entry.DiscoveredURLs)

	if err := c.store.UpsertSiteCache(ctx, entry); err != nil {
		return fmt.Errorf("save site map: %w", err)
	}

	c.logger.Info("saved site map",
		"source", sourceName,
		"urls", entry.AuctionCount,
		"firearms_found", firearmsFound,
		"expires_at", entry.ExpiresAt,
	)
	return nil
}

// GetNewURLs returns the members of current absent from the cached set.
// Without a valid entry, or when the lookup fails, all of current is returned.
func (c *Cache) GetNewURLs(ctx context.Context, sourceURL string, current []string) []string {
	entry, err := c.GetSiteMap(ctx, sourceURL)
	if err != nil {
		c.logger.Warn("site map lookup failed, treating all urls as new", "source_url", sourceURL, "err", err)
		return current
	}
	if entry == nil {
		return current
	}

	known := make(map[string]struct{}, len(entry.DiscoveredURLs))
	for _, u := range entry.DiscoveredURLs {
		known[u] = struct{}{}
	}

	var fresh []string
	for _, u := range current {
		if _, ok := known[u]; !ok {
			fresh = append(fresh, u)
		}
	}

	c.logger.Debug("diffed site map",
		"source_url", sourceURL,
		"current", len(current),
		"new", len(fresh),
	)
	return fresh
}

// Invalidate force-expires the entry for sourceURL.
func (c *Cache) Invalidate(ctx context.Context, sourceURL string) error {
	if err := c.store.ExpireSiteCache(ctx, sourceURL, c.now()); err != nil {
		return fmt.Errorf("invalidate site map: %w", err)
	}
	return nil
}

// IsValid reports whether a fresh entry exists for sourceURL.
func (c *Cache) IsValid(ctx context.Context, sourceURL string) bool {
	entry, err := c.GetSiteMap(ctx, sourceURL)
	return err == nil && entry != nil
}

// Stats summarizes all entries.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	entries, err := c.store.ListSiteCache(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list site cache: %w", err)
	}

	now := c.now()
	var s Stats
	for _, e := range entries {
		s.TotalEntries++
		if e.Valid(now) {
			s.ValidEntries++
		} else {
			s.ExpiredEntries++
		}
		s.TotalURLs += len(e.DiscoveredURLs)
		s.FirearmsFound += e.FirearmsFound
	}
	return s, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
