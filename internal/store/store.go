// Package store provides persistence for listings, price history, competitor
// metrics, site cache entries and user alerts.
//
// Two implementations satisfy Store: Postgres (pgx) for production and
// Memory for tests and the memory driver.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Ordering for listing queries.
const (
	OrderScrapedDesc    = "scraped_desc"
	OrderAuctionDateAsc = "auction_date_asc"
)

// ListingFilter narrows ListListings and CountListings. Zero fields are ignored.
type ListingFilter struct {
	Statuses           []model.ListingStatus
	EnrichmentStatuses []model.EnrichmentStatus
	Category           string
	Manufacturer       string // case-insensitive substring
	Caliber            string // case-insensitive substring
	Condition          string
	State              string
	AuctionHouse       string
	MinPrice           *float64 // on current_bid
	MaxPrice           *float64
	EstateSalesOnly    bool
	NFAOnly            bool
	RequireComparable  bool // manufacturer, model and current_bid all set
	ScrapedSince       *time.Time
	AuctionDateFrom    *time.Time // inclusive
	AuctionDateTo      *time.Time // inclusive
	OrderBy            string
	Limit              int
	Offset             int
}

// ListingStore persists auction listings.
type ListingStore interface {
	GetListing(ctx context.Context, id int64) (model.AuctionListing, error)
	GetListingByURL(ctx context.Context, url string) (model.AuctionListing, error)
	// InsertListing stores a new listing and returns its ID.
	InsertListing(ctx context.Context, l model.AuctionListing) (int64, error)
	// UpdateVolatile refreshes the fields a re-scrape may change. A nil bid
	// keeps the stored value.
	UpdateVolatile(ctx context.Context, id int64, currentBid *float64, at time.Time) error
	SetEnrichmentStatus(ctx context.Context, id int64, status model.EnrichmentStatus, at time.Time) error
	ApplyEnrichment(ctx context.Context, id int64, update model.EnrichmentUpdate, at time.Time) error
	ListListings(ctx context.Context, f ListingFilter) ([]model.AuctionListing, error)
	CountListings(ctx context.Context, f ListingFilter) (int, error)
	ListIDs(ctx context.Context, statuses ...model.EnrichmentStatus) ([]int64, error)
	// ResetEnrichment moves every listing back to pending and returns the count.
	ResetEnrichment(ctx context.Context, at time.Time) (int64, error)
	// ResetStaleProcessing moves processing rows last updated before cutoff to pending.
	ResetStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error)
	EnrichmentStats(ctx context.Context) (model.EnrichmentStats, error)
	CategoryCounts(ctx context.Context, f ListingFilter) ([]model.CategoryCount, error)
}

// PriceStore persists comparable sales.
type PriceStore interface {
	InsertPriceRecord(ctx context.Context, r model.PriceHistoryRecord) (int64, error)
	// ListPriceHistorySince returns records with auction_date >= since, oldest first.
	ListPriceHistorySince(ctx context.Context, since time.Time) ([]model.PriceHistoryRecord, error)
	// Comparables returns records matching the normalized keys (and condition
	// when non-empty), newest first, capped at limit.
	Comparables(ctx context.Context, manufacturerKey, modelKey, condition string, limit int) ([]model.PriceHistoryRecord, error)
}

// CompetitorStore persists competitor snapshots.
type CompetitorStore interface {
	InsertCompetitorMetric(ctx context.Context, m model.CompetitorMetric) (int64, error)
	// ListCompetitorMetrics returns snapshots, filtered by category when non-empty.
	ListCompetitorMetrics(ctx context.Context, category string) ([]model.CompetitorMetric, error)
}

// SiteCacheStore persists discovered URL sets per source.
type SiteCacheStore interface {
	GetSiteCache(ctx context.Context, sourceURL string) (model.SiteCacheEntry, error)
	UpsertSiteCache(ctx context.Context, e model.SiteCacheEntry) error
	ExpireSiteCache(ctx context.Context, sourceURL string, at time.Time) error
	ListSiteCache(ctx context.Context) ([]model.SiteCacheEntry, error)
}

// AlertStore persists user alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a model.UserAlert) (model.UserAlert, error)
	GetAlert(ctx context.Context, id int64) (model.UserAlert, error)
	// UpdateAlert replaces criteria and, when active is non-nil, the active flag.
	UpdateAlert(ctx context.Context, id int64, criteria model.AlertCriteria, active *bool) (model.UserAlert, error)
	DeleteAlert(ctx context.Context, id int64) error
	ListAlertsByUser(ctx context.Context, userID int64) ([]model.UserAlert, error)
	ListActiveAlerts(ctx context.Context) ([]model.UserAlert, error)
	TouchAlert(ctx context.Context, id int64, at time.Time) error
}

// Store is the full record store.
type Store interface {
	ListingStore
	PriceStore
	CompetitorStore
	SiteCacheStore
	AlertStore
	Ping(ctx context.Context) error
	Close()
}
