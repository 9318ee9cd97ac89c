package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Listings
// -----------------------------------------------------------------------------

// AuctionListing is one scraped and (eventually) enriched firearm auction.
type AuctionListing struct {
	ID            int64     `json:"id"`
	URL           string    `json:"url"` // Canonical URL, unique dedup key
	Title         string    `json:"title"`
	Description   *string   `json:"description"`
	SourceWebsite string    `json:"sourceWebsite"`
	ScrapedAt     time.Time `json:"scrapedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Enrichable fields (nil until enrichment completes)
	Manufacturer        *string  `json:"manufacturer"`
	Model               *string  `json:"model"`
	Caliber             *string  `json:"caliber"`
	SerialNumber        *string  `json:"serialNumber"`
	YearManufactured    *int     `json:"yearManufactured"`
	Category            *string  `json:"category"`
	SubCategory         *string  `json:"subCategory"`
	Condition           *string  `json:"condition"`
	BoreCondition       *string  `json:"boreCondition"`
	FinishPercentage    *int     `json:"finishPercentage"`
	OriginalParts       *bool    `json:"originalParts"`
	MechanicalFunction  *string  `json:"mechanicalFunction"`
	Provenance          *string  `json:"provenance"`
	Rarity              *string  `json:"rarity"`
	Desirability        *int     `json:"desirability"` // 1-10
	InvestmentGrade     bool     `json:"investmentGrade"`
	TransferType        *string  `json:"transferType"`
	NFAItem             bool     `json:"nfaItem"`
	IncludedAccessories []string `json:"includedAccessories"`
	OriginalBox         *bool    `json:"originalBox"`
	Paperwork           *bool    `json:"paperwork"`
	IsEstateSale        bool     `json:"isEstateSale"`
	EstateSize          *string  `json:"estateSize"`
	CollectionName      *string  `json:"collectionName"`

	// Auction economics
	AuctionHouse *string    `json:"auctionHouse"`
	LotNumber    *string    `json:"lotNumber"`
	StartingBid  *float64   `json:"startingBid"`
	CurrentBid   *float64   `json:"currentBid"`
	EstimateLow  *float64   `json:"estimateLow"`
	EstimateHigh *float64   `json:"estimateHigh"`
	AuctionDate  *time.Time `json:"auctionDate"`

	// Geography
	City      *string  `json:"city"`
	State     *string  `json:"state"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	// Lifecycle
	Status            ListingStatus    `json:"status"`
	EnrichmentStatus  EnrichmentStatus `json:"enrichmentStatus"`
	EnrichedAt        *time.Time       `json:"enrichedAt"`
	EnrichmentVersion *string          `json:"enrichmentVersion"`
	AIExtractedData   json.RawMessage  `json:"aiExtractedData,omitempty"`
}

// EnrichmentUpdate carries every enrichable field written back in one update
// when enrichment completes. Status is applied only when non-nil.
type EnrichmentUpdate struct {
	Manufacturer        *string
	Model               *string
	Caliber             *string
	SerialNumber        *string
	YearManufactured    *int
	Category            *string
	SubCategory         *string
	Condition           *string
	BoreCondition       *string
	FinishPercentage    *int
	OriginalParts       *bool
	MechanicalFunction  *string
	Provenance          *string
	Rarity              *string
	Desirability        *int
	InvestmentGrade     bool
	TransferType        *string
	NFAItem             bool
	IncludedAccessories []string
	OriginalBox         *bool
	Paperwork           *bool
	IsEstateSale        bool
	EstateSize          *string
	CollectionName      *string

	AuctionHouse *string
	LotNumber    *string
	StartingBid  *float64
	CurrentBid   *float64
	EstimateLow  *float64
	EstimateHigh *float64
	AuctionDate  *time.Time

	Status            *ListingStatus
	EnrichmentVersion string
	AIExtractedData   json.RawMessage
}

// Apply copies the update onto a listing and marks it completed.
// Stores that keep listings in memory share this with the SQL update.
func (u EnrichmentUpdate) Apply(l *AuctionListing, at time.Time) {
	l.Manufacturer = u.Manufacturer
	l.Model = u.Model
	l.Caliber = u.Caliber
	l.SerialNumber = u.SerialNumber
	l.YearManufactured = u.YearManufactured
	l.Category = u.Category
	l.SubCategory = u.SubCategory
	l.Condition = u.Condition
	l.BoreCondition = u.BoreCondition
	l.FinishPercentage = u.FinishPercentage
	l.OriginalParts = u.OriginalParts
	l.MechanicalFunction = u.MechanicalFunction
	l.Provenance = u.Provenance
	l.Rarity = u.Rarity
	l.Desirability = u.Desirability
	l.InvestmentGrade = u.InvestmentGrade
	l.TransferType = u.TransferType
	l.NFAItem = u.NFAItem
	l.IncludedAccessories = append([]string(nil), u.IncludedAccessories...)
	l.OriginalBox = u.OriginalBox
	l.Paperwork = u.Paperwork
	l.IsEstateSale = u.IsEstateSale
	l.EstateSize = u.EstateSize
	l.CollectionName = u.CollectionName
	l.AuctionHouse = u.AuctionHouse
	l.LotNumber = u.LotNumber
	l.StartingBid = u.StartingBid
	l.CurrentBid = u.CurrentBid
	l.EstimateLow = u.EstimateLow
	l.EstimateHigh = u.EstimateHigh
	l.AuctionDate = u.AuctionDate
	if u.Status != nil {
		l.Status = *u.Status
	}
	version := u.EnrichmentVersion
	l.EnrichmentVersion = &version
	l.AIExtractedData = append(json.RawMessage(nil), u.AIExtractedData...)
	l.EnrichmentStatus = EnrichmentCompleted
	l.EnrichedAt = &at
	l.UpdatedAt = at
}

// EnrichmentStats counts listings per enrichment status.
type EnrichmentStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CategoryCount is the number of listings in one category and their
// average current bid (nil when none has a bid).
type CategoryCount struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	AvgBid   *float64 `json:"avgBid"`
}

// -----------------------------------------------------------------------------
// Market Intelligence
// -----------------------------------------------------------------------------

// PriceHistoryRecord is one confirmed historical sale. Append-only.
type PriceHistoryRecord struct {
	ID                     int64     `json:"id"`
	Manufacturer           string    `json:"manufacturer"`
	ManufacturerNormalized string    `json:"manufacturerNormalized"`
	Model                  string    `json:"model"`
	ModelNormalized        string    `json:"modelNormalized"`
	Caliber                *string   `json:"caliber"`
	Condition              *string   `json:"condition"`
	SalePrice              float64   `json:"salePrice"`
	AuctionDate            time.Time `json:"auctionDate"`
	AuctionHouse           *string   `json:"auctionHouse"`
	SourceURL              *string   `json:"sourceUrl"`
	CreatedAt              time.Time `json:"createdAt"`
}

// CompetitorMetric is a performance snapshot for one auction house and
// category over a date range. Snapshots are appended, never updated.
type CompetitorMetric struct {
	ID              int64     `json:"id"`
	AuctionHouse    string    `json:"auctionHouse"`
	Category        *string   `json:"category"`
	AvgSalePrice    float64   `json:"avgSalePrice"`
	TotalVolume     int       `json:"totalVolume"`
	RealizationRate float64   `json:"realizationRate"`
	DateRangeStart  time.Time `json:"dateRangeStart"`
	DateRangeEnd    time.Time `json:"dateRangeEnd"`
	CreatedAt       time.Time `json:"createdAt"`
}

// -----------------------------------------------------------------------------
// Site Cache
// -----------------------------------------------------------------------------

// SiteCacheEntry records the page URLs discovered for one source.
type SiteCacheEntry struct {
	SourceURL      string    `json:"sourceUrl"`
	SourceName     string    `json:"sourceName"`
	DiscoveredURLs []string  `json:"discoveredUrls"`
	LastScraped    time.Time `json:"lastScraped"`
	ExpiresAt      time.Time `json:"expiresAt"`
	AuctionCount   int       `json:"auctionCount"`
	FirearmsFound  int       `json:"firearmsFound"`
}

// Valid reports whether the entry is still fresh at now.
func (e SiteCacheEntry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

// AlertCriteria is a user-defined filter. Zero values are unpopulated.
type AlertCriteria struct {
	Manufacturer    string   `json:"manufacturer,omitempty"`
	Model           string   `json:"model,omitempty"`
	Caliber         string   `json:"caliber,omitempty"`
	Category        string   `json:"category,omitempty"`
	Condition       string   `json:"condition,omitempty"`
	MaxPrice        *float64 `json:"maxPrice,omitempty"`
	MinRarity       string   `json:"minRarity,omitempty"`
	NFAOnly         bool     `json:"nfaOnly,omitempty"`
	EstateSalesOnly bool     `json:"estateSalesOnly,omitempty"`
}

// UserAlert is a saved search owned by a user.
type UserAlert struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"userId"`
	AlertType     string        `json:"alertType"`
	Criteria      AlertCriteria `json:"criteria"`
	Active        bool          `json:"active"`
	LastTriggered *time.Time    `json:"lastTriggered"`
	CreatedAt     time.Time     `json:"createdAt"`
}
