// Package analytics computes price intelligence over historical sales,
// active listings and competitor snapshots.
package analytics

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

// Defaults used when the corresponding option is not set.
const (
	DefaultComparableLimit = 10
	DefaultMinComparables  = 3
	DefaultThreshold       = 20.0
	DefaultTrendDays       = 30
)

// ComparableSource looks up historical sales by normalized manufacturer and
// model keys, newest first. An empty condition matches any condition.
type ComparableSource interface {
	Comparables(ctx context.Context, manufacturerKey, modelKey, condition string, limit int) ([]model.PriceHistoryRecord, error)
}

// Store is the persistence the engine reads and appends to.
type Store interface {
	store.PriceStore
	store.CompetitorStore
	ListListings(ctx context.Context, f store.ListingFilter) ([]model.AuctionListing, error)
}

// Engine is the price analytics service.
type Engine struct {
	store          Store
	comparables    ComparableSource
	limit          int
	minComparables int
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithComparableSource replaces the store as the comparable lookup, e.g. with
// a precomputed index.
func WithComparableSource(src ComparableSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.comparables = src
		}
	}
}

// WithComparableLimit sets the default number of comparables returned.
func WithComparableLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithMinComparables sets the sample size an opportunity needs.
func WithMinComparables(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minComparables = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine over st.
func New(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		comparables:    st,
		limit:          DefaultComparableLimit,
		minComparables: DefaultMinComparables,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PriceTrend is the average sale price and volume for one calendar day.
type PriceTrend struct {
	Date     string  `json:"date"`
	AvgPrice float64 `json:"avgPrice"`
	Volume   int     `json:"volume"`
}

// PriceTrends groups the sales of the last days by UTC calendar date, oldest
// first. The category is accepted for the route shape; price history records
// carry no category.
func (e *Engine) PriceTrends(ctx context.Context, category string, days int) ([]PriceTrend, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	since := e.now().AddDate(0, 0, -days)

	records, err := e.store.ListPriceHistorySince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}

	type day struct {
		sum   float64
		count int
	}
	byDay := make(map[string]*day)
	var order []string
	for _, r := range records {
		key := r.AuctionDate.UTC().Format(time.DateOnly)
		d, ok := byDay[key]
		if !ok {
			d = &day{}
			byDay[key] = d
			order = append(order, key)
		}
		d.sum += r.SalePrice
		d.count++
	}
	slices.Sort(order)

	trends := make([]PriceTrend, 0, len(order))
	for _, key := range order {
		d := byDay[key]
		trends = append(trends, PriceTrend{
			Date:     key,
			AvgPrice: round(d.sum/float64(d.count), 2),
			Volume:   d.count,
		})
	}
	e.logger.Debug("price trends computed", "category", category, "days", days, "points", len(trends))
	return trends, nil
}

// ComparableSale is one historical sale in a PriceAnalysis.
type ComparableSale struct {
	Date         string  `json:"date"`
	Manufacturer string  `json:"manufacturer"`
	Model        string  `json:"model"`
	Caliber      string  `json:"caliber"`
	Condition    string  `json:"condition"`
	SalePrice    float64 `json:"salePrice"`
	AuctionHouse string  `json:"auctionHouse"`
	SourceURL    string  `json:"sourceUrl"`
}

// PriceAnalysis summarizes comparable sales for one manufacturer and model.
type PriceAnalysis struct {
	AveragePrice   float64          `json:"averagePrice"`
	MedianPrice    float64          `json:"medianPrice"`
	MinPrice       float64          `json:"minPrice"`
	MaxPrice       float64          `json:"maxPrice"`
	PriceDeviation float64          `json:"priceDeviation"` // coefficient of variation, percent
	SampleSize     int              `json:"sampleSize"`
	Comparables    []ComparableSale `json:"comparables"`
}

// FindComparables matches sales by trimmed, case-insensitive manufacturer and
// model, and by condition when given. Statistics use up to 2×limit of the
// newest sales; at most limit are returned. No matches yield a zero analysis.
func (e *Engine) FindComparables(ctx context.Context, manufacturer, modelName, condition string, limit int) (PriceAnalysis, error) {
	if limit <= 0 {
		limit = e.limit
	}
	records, err := e.comparables.Comparables(ctx, model.NormalizeKey(manufacturer), model.NormalizeKey(modelName), condition, limit*2)
	if err != nil {
		return PriceAnalysis{Comparables: []ComparableSale{}}, fmt.Errorf("find comparables: %w", err)
	}
	return analyze(records, limit), nil
}

func analyze(records []model.PriceHistoryRecord, limit int) PriceAnalysis {
	if len(records) == 0 {
		return PriceAnalysis{Comparables: []ComparableSale{}}
	}

	prices := make([]float64, len(records))
	var sum float64
	for i, r := range records {
		prices[i] = r.SalePrice
		sum += r.SalePrice
	}
	n := float64(len(prices))
	mean := sum / n

	sorted := slices.Clone(prices)
	slices.Sort(sorted)
	// Upper-middle element for even lengths, not an interpolated median.
	median := sorted[len(sorted)/2]

	var variance float64
	for _, p := range prices {
		variance += (p - mean) * (p - mean)
	}
	variance /= n

	var deviation float64
	if mean != 0 {
		deviation = math.Sqrt(variance) / mean * 100
	}

	out := PriceAnalysis{
		AveragePrice:   round(mean, 2),
		MedianPrice:    round(median, 2),
		MinPrice:       sorted[0],
		MaxPrice:       sorted[len(sorted)-1],
		PriceDeviation: round(deviation, 2),
		SampleSize:     len(records),
		Comparables:    make([]ComparableSale, 0, min(limit, len(records))),
	}
	for _, r := range records[:min(limit, len(records))] {
		out.Comparables = append(out.Comparables, ComparableSale{
			Date:         r.AuctionDate.UTC().Format(time.DateOnly),
			Manufacturer: r.Manufacturer,
			Model:        r.Model,
			Caliber:      deref(r.Caliber),
			Condition:    deref(r.Condition),
			SalePrice:    r.SalePrice,
			AuctionHouse: deref(r.AuctionHouse),
			SourceURL:    deref(r.SourceURL),
		})
	}
	return out
}

// OpportunityItem is an active listing bid materially below its comparables.
type OpportunityItem struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	CurrentBid   float64   `json:"currentBid"`
	Estimate     float64   `json:"estimate"`
	Deviation    float64   `json:"deviation"` // percent below the comparable average
	AuctionDate  time.Time `json:"auctionDate"`
	URL          string    `json:"url"`
}

// FindOpportunities scans active, enriched listings with a manufacturer,
// model and current bid, and returns those whose bid is at least threshold
// percent below the comparable average, highest deviation first. Listings
// with fewer comparables than the minimum sample size are skipped.
func (e *Engine) FindOpportunities(ctx context.Context, threshold float64) ([]OpportunityItem, error) {
	listings, err := e.store.ListListings(ctx, store.ListingFilter{
		Statuses:           []model.ListingStatus{model.StatusActive},
		EnrichmentStatuses: []model.EnrichmentStatus{model.EnrichmentCompleted},
		RequireComparable:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list active listings: %w", err)
	}

	out := []OpportunityItem{}
	for _, l := range listings {
		if l.Manufacturer == nil || l.Model == nil || l.CurrentBid == nil || *l.CurrentBid == 0 {
			continue
		}
		analysis, err := e.FindComparables(ctx, *l.Manufacturer, *l.Model, deref(l.Condition), 0)
		if err != nil {
			return nil, err
		}
		if analysis.SampleSize < e.minComparables || analysis.AveragePrice == 0 {
			continue
		}

		deviation := (analysis.AveragePrice - *l.CurrentBid) / analysis.AveragePrice * 100
		if deviation < threshold {
			continue
		}

		date := e.now()
		if l.AuctionDate != nil {
			date = *l.AuctionDate
		}
		out = append(out, OpportunityItem{
			ID:           l.ID,
			Title:        *l.Manufacturer + " " + *l.Model,
			Manufacturer: *l.Manufacturer,
			Model:        *l.Model,
			CurrentBid:   *l.CurrentBid,
			Estimate:     analysis.AveragePrice,
			Deviation:    round(deviation, 1),
			AuctionDate:  date,
			URL:          l.URL,
		})
	}

	slices.SortStableFunc(out, func(a, b OpportunityItem) int {
		return cmp.Compare(b.Deviation, a.Deviation)
	})
	return out, nil
}

// CompetitorSummary aggregates the snapshots of one auction house and category.
type CompetitorSummary struct {
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	AvgSalePrice    float64 `json:"avgSalePrice"`
	TotalVolume     int     `json:"totalVolume"`
	MarketShare     float64 `json:"marketShare"`
	RealizationRate float64 `json:"realizationRate"`
}

// CompetitorComparison groups snapshots by auction house and category,
// largest volume first. Market share is each group's share of the total
// volume across the returned rows.
func (e *Engine) CompetitorComparison(ctx context.Context, category string) ([]CompetitorSummary, error) {
	metrics, err := e.store.ListCompetitorMetrics(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list competitor metrics: %w", err)
	}

	type key struct{ house, category string }
	type group struct {
		key
		priceSum, rateSum float64
		snapshots         int
		volume            int
	}
	groups := make(map[key]*group)
	var order []*group
	for _, m := range metrics {
		k := key{m.AuctionHouse, deref(m.Category)}
		g, ok := groups[k]
		if !ok {
			g = &group{key: k}
			groups[k] = g
			order = append(order, g)
		}
		g.priceSum += m.AvgSalePrice
		g.rateSum += m.RealizationRate
		g.volume += m.TotalVolume
		g.snapshots++
	}

	slices.SortStableFunc(order, func(a, b *group) int {
		return cmp.Compare(b.volume, a.volume)
	})

	volumes := make([]int, len(order))
	for i, g := range order {
		volumes[i] = g.volume
	}
	shares := marketShares(volumes)

	out := make([]CompetitorSummary, 0, len(order))
	for i, g := range order {
		out = append(out, CompetitorSummary{
			Name:            g.house,
			Category:        g.category,
			AvgSalePrice:    round(g.priceSum/float64(g.snapshots), 2),
			TotalVolume:     g.volume,
			MarketShare:     shares[i],
			RealizationRate: round(g.rateSum/float64(g.snapshots), 2),
		})
	}
	return out, nil
}

// Sale is a confirmed historical sale to record.
type Sale struct {
	Manufacturer string    `json:"manufacturer"`
	Model        string    `json:"model"`
	Caliber      string    `json:"caliber"`
	Condition    string    `json:"condition"`
	SalePrice    float64   `json:"salePrice"`
	AuctionDate  time.Time `json:"auctionDate"`
	AuctionHouse string    `json:"auctionHouse"`
	SourceURL    string    `json:"sourceUrl"`
}

// RecordSale appends a sale to the price history with normalized keys.
func (e *Engine) RecordSale(ctx context.Context, s Sale) (int64, error) {
	if model.NormalizeKey(s.Manufacturer) == "" || model.NormalizeKey(s.Model) == "" {
		return 0, fmt.Errorf("record sale: manufacturer and model are required")
	}
	if s.SalePrice <= 0 {
		return 0, fmt.Errorf("record sale: sale price must be positive")
	}
	if s.AuctionDate.IsZero() {
		s.AuctionDate = e.now()
	}

	id, err := e.store.InsertPriceRecord(ctx, model.PriceHistoryRecord{
		Manufacturer:           s.Manufacturer,
		ManufacturerNormalized: model.NormalizeKey(s.Manufacturer),
		Model:                  s.Model,
		ModelNormalized:        model.NormalizeKey(s.Model),
		Caliber:                optional(s.Caliber),
		Condition:              optional(s.Condition),
		SalePrice:              s.SalePrice,
		AuctionDate:            s.AuctionDate,
		AuctionHouse:           optional(s.AuctionHouse),
		SourceURL:              optional(s.SourceURL),
	})
	if err != nil {
		return 0, fmt.Errorf("insert price record: %w", err)
	}
	return id, nil
}

// DateRange is an inclusive auction-date window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// UpdateCompetitorMetrics appends a snapshot computed from the sold listings
// of auctionHouse and category within r. It returns nil when nothing sold.
//
// Realization rate is the mean of bid / estimate midpoint over listings with
// an estimate, or 100 when none have one.
func (e *Engine) UpdateCompetitorMetrics(ctx context.Context, auctionHouse, category string, r DateRange) (*model.CompetitorMetric, error) {
	sold, err := e.store.ListListings(ctx, store.ListingFilter{
		Statuses:        []model.ListingStatus{model.StatusSold},
		AuctionHouse:    auctionHouse,
		Category:        category,
		AuctionDateFrom: &r.Start,
		AuctionDateTo:   &r.End,
	})
	if err != nil {
		return nil, fmt.Errorf("list sold listings: %w", err)
	}
	if len(sold) == 0 {
		return nil, nil
	}

	var priceSum float64
	var priced int
	var rateSum float64
	var rated int
	for _, l := range sold {
		if l.CurrentBid == nil {
			continue
		}
		priceSum += *l.CurrentBid
		priced++

		if l.EstimateLow == nil {
			continue
		}
		estimate := (*l.EstimateLow + derefFloat(l.EstimateHigh)) / 2
		if estimate > 0 {
			rateSum += *l.CurrentBid / estimate * 100
		} else {
			rateSum += 100
		}
		rated++
	}

	var avg float64
	if priced > 0 {
		avg = priceSum / float64(priced)
	}
	rate := 100.0
	if rated > 0 {
		rate = rateSum / float64(rated)
	}

	m := model.CompetitorMetric{
		AuctionHouse:    auctionHouse,
		Category:        optional(category),
		AvgSalePrice:    round(avg, 2),
		TotalVolume:     len(sold),
		RealizationRate: round(rate, 2),
		DateRangeStart:  r.Start,
		DateRangeEnd:    r.End,
		CreatedAt:       e.now(),
	}
	id, err := e.store.InsertCompetitorMetric(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("insert competitor metric: %w", err)
	}
	m.ID = id

	e.logger.Info("competitor snapshot recorded",
		"auction_house", auctionHouse,
		"category", category,
		"volume", m.TotalVolume,
		"realization_rate", m.RealizationRate,
	)
	return &m, nil
}

// marketShares splits 100% across volumes in hundredths of a percent. Each
// share is floored and the leftover hundredths go to the largest remainders,
// so the shares always add up to exactly 100 when any volume is positive.
func marketShares(volumes []int) []float64 {
	shares := make([]float64, len(volumes))
	var total int64
	for _, v := range volumes {
		total += int64(max(v, 0))
	}
	if total == 0 {
		return shares
	}

	const whole = 10000
	units := make([]int64, len(volumes))
	rem := make([]int64, len(volumes))
	left := int64(whole)
	for i, v := range volumes {
		n := int64(max(v, 0)) * whole
		units[i] = n / total
		rem[i] = n % total
		left -= units[i]
	}

	idx := make([]int, len(volumes))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(rem[b], rem[a])
	})
	for _, i := range idx[:left] {
		units[i]++
	}

	for i, u := range units {
		shares[i] = float64(u) / 100
	}
	return shares
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
