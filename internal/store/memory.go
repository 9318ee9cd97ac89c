package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	listings   map[int64]model.AuctionListing
	byURL      map[string]int64
	prices     []model.PriceHistoryRecord
	metrics    []model.CompetitorMetric
	siteCache  map[string]model.SiteCacheEntry
	alerts     map[int64]model.UserAlert
	nextID     int64
	now        func() time.Time
	failInsert func(model.AuctionListing) error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings:  make(map[int64]model.AuctionListing),
		byURL:     make(map[string]int64),
		siteCache: make(map[string]model.SiteCacheEntry),
		alerts:    make(map[int64]model.UserAlert),
		now:       time.Now,
	}
}

// FailInserts makes InsertListing fail for listings matched by fn.
// Used to exercise save-failure paths.
func (m *Memory) FailInserts(fn func(model.AuctionListing) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInsert = fn
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func cloneListing(l model.AuctionListing) model.AuctionListing {
	l.IncludedAccessories = slices.Clone(l.IncludedAccessories)
	l.AIExtractedData = slices.Clone(l.AIExtractedData)
	return l
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() {}

// -----------------------------------------------------------------------------
// Listings
// -----------------------------------------------------------------------------

func (m *Memory) GetListing(_ context.Context, id int64) (model.AuctionListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[id]
	if !ok {
		return model.AuctionListing{}, fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	return cloneListing(l), nil
}

func (m *Memory) GetListingByURL(_ context.Context, url string) (model.AuctionListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byURL[url]
	if !ok {
		return model.AuctionListing{}, fmt.Errorf("listing %q: %w", url, ErrNotFound)
	}
	return cloneListing(m.listings[id]), nil
}

func (m *Memory) InsertListing(_ context.Context, l model.AuctionListing) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		if err := m.failInsert(l); err != nil {
			return 0, err
		}
	}
	if _, exists := m.byURL[l.URL]; exists {
		return 0, fmt.Errorf("insert listing %q: duplicate url", l.URL)
	}

	now := m.now()
	l.ID = m.id()
	if l.ScrapedAt.IsZero() {
		l.ScrapedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.ScrapedAt
	}
	if l.Status == "" {
		l.Status = model.StatusActive
	}
	if l.EnrichmentStatus == "" {
		l.EnrichmentStatus = model.EnrichmentPending
	}
	m.listings[l.ID] = cloneListing(l)
	m.byURL[l.URL] = l.ID
	return l.ID, nil
}

func (m *Memory) update(id int64, fn func(*model.AuctionListing)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok {
		return fmt.Errorf("listing %d: %w", id, ErrNotFound)
	}
	fn(&l)
	m.listings[id] = l
	return nil
}

func (m *Memory) UpdateVolatile(_ context.Context, id int64, currentBid *float64, at time.Time) error {
	return m.update(id, func(l *model.AuctionListing) {
		if currentBid != nil {
			bid := *currentBid
			l.CurrentBid = &bid
		}
		l.UpdatedAt = at
	})
}

func (m *Memory) SetEnrichmentStatus(_ context.Context, id int64, status model.EnrichmentStatus, at time.Time) error {
	return m.update(id, func(l *model.AuctionListing) {
		l.EnrichmentStatus = status
		l.UpdatedAt = at
	})
}

func (m *Memory) ApplyEnrichment(_ context.Context, id int64, u model.EnrichmentUpdate, at time.Time) error {
	return m.update(id, func(l *model.AuctionListing) {
		u.Apply(l, at)
	})
}

func (m *Memory) ListListings(_ context.Context, f ListingFilter) ([]model.AuctionListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.filter(f)
	sortListings(out, f.OrderBy)

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	for i := range out {
		out[i] = cloneListing(out[i])
	}
	return out, nil
}

func (m *Memory) CountListings(_ context.Context, f ListingFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filter(f)), nil
}

func (m *Memory) ListIDs(_ context.Context, statuses ...model.EnrichmentStatus) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id, l := range m.listings {
		if len(statuses) == 0 || slices.Contains(statuses, l.EnrichmentStatus) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) ResetEnrichment(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, l := range m.listings {
		l.EnrichmentStatus = model.EnrichmentPending
		l.UpdatedAt = at
		m.listings[id] = l
	}
	return int64(len(m.listings)), nil
}

func (m *Memory) ResetStaleProcessing(_ context.Context, cutoff, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, l := range m.listings {
		if l.EnrichmentStatus == model.EnrichmentProcessing && l.UpdatedAt.Before(cutoff) {
			l.EnrichmentStatus = model.EnrichmentPending
			l.UpdatedAt = at
			m.listings[id] = l
			n++
		}
	}
	return n, nil
}

func (m *Memory) EnrichmentStats(context.Context) (model.EnrichmentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s model.EnrichmentStats
	for _, l := range m.listings {
		s.Total++
		switch l.EnrichmentStatus {
		case model.EnrichmentPending:
			s.Pending++
		case model.EnrichmentProcessing:
			s.Processing++
		case model.EnrichmentCompleted:
			s.Completed++
		case model.EnrichmentFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Memory) CategoryCounts(_ context.Context, f ListingFilter) ([]model.CategoryCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type agg struct {
		n, bids int
		sum     float64
	}
	counts := make(map[string]*agg)
	for _, l := range m.filter(f) {
		if l.Category == nil || *l.Category == "" {
			continue
		}
		a, ok := counts[*l.Category]
		if !ok {
			a = &agg{}
			counts[*l.Category] = a
		}
		a.n++
		if l.CurrentBid != nil {
			a.sum += *l.CurrentBid
			a.bids++
		}
	}

	out := make([]model.CategoryCount, 0, len(counts))
	for c, a := range counts {
		cc := model.CategoryCount{Category: c, Count: a.n}
		if a.bids > 0 {
			avg := a.sum / float64(a.bids)
			cc.AvgBid = &avg
		}
		out = append(out, cc)
	}
	slices.SortFunc(out, func(a, b model.CategoryCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Category, b.Category)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) filter(f ListingFilter) []model.AuctionListing {
	var out []model.AuctionListing
	for _, l := range m.listings {
		if matchListing(l, f) {
			out = append(out, l)
		}
	}
	return out
}

func matchListing(l model.AuctionListing, f ListingFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status) {
		return false
	}
	if len(f.EnrichmentStatuses) > 0 && !slices.Contains(f.EnrichmentStatuses, l.EnrichmentStatus) {
		return false
	}
	if f.Category != "" && !equalPtr(l.Category, f.Category) {
		return false
	}
	if f.Condition != "" && !equalPtr(l.Condition, f.Condition) {
		return false
	}
	if f.State != "" && !equalPtr(l.State, f.State) {
		return false
	}
	if f.AuctionHouse != "" && !equalPtr(l.AuctionHouse, f.AuctionHouse) {
		return false
	}
	if f.Manufacturer != "" && !containsFold(l.Manufacturer, f.Manufacturer) {
		return false
	}
	if f.Caliber != "" && !containsFold(l.Caliber, f.Caliber) {
		return false
	}
	if f.MinPrice != nil && (l.CurrentBid == nil || *l.CurrentBid < *f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && (l.CurrentBid == nil || *l.CurrentBid > *f.MaxPrice) {
		return false
	}
	if f.EstateSalesOnly && !l.IsEstateSale {
		return false
	}
	if f.NFAOnly && !l.NFAItem {
		return false
	}
	if f.RequireComparable && (l.Manufacturer == nil || l.Model == nil || l.CurrentBid == nil) {
		return false
	}
	if f.ScrapedSince != nil && l.ScrapedAt.Before(*f.ScrapedSince) {
		return false
	}
	if f.AuctionDateFrom != nil && (l.AuctionDate == nil || l.AuctionDate.Before(*f.AuctionDateFrom)) {
		return false
	}
	if f.AuctionDateTo != nil && (l.AuctionDate == nil || l.AuctionDate.After(*f.AuctionDateTo)) {
		return false
	}
	return true
}

func sortListings(ls []model.AuctionListing, order string) {
	switch order {
	case OrderAuctionDateAsc:
		slices.SortFunc(ls, func(a, b model.AuctionListing) int {
			switch {
			case a.AuctionDate == nil && b.AuctionDate == nil:
			case a.AuctionDate == nil:
				return 1
			case b.AuctionDate == nil:
				return -1
			default:
				if c := a.AuctionDate.Compare(*b.AuctionDate); c != 0 {
					return c
				}
			}
			return cmp.Compare(a.ID, b.ID)
		})
	default:
		slices.SortFunc(ls, func(a, b model.AuctionListing) int {
			if c := b.ScrapedAt.Compare(a.ScrapedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
	}
}

func equalPtr(p *string, want string) bool {
	return p != nil && *p == want
}

func containsFold(p *string, sub string) bool {
	return p != nil && strings.Contains(strings.ToLower(*p), strings.ToLower(sub))
}

// -----------------------------------------------------------------------------
// Price history
// -----------------------------------------------------------------------------

func (m *Memory) InsertPriceRecord(_ context.Context, r model.PriceHistoryRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	m.prices = append(m.prices, r)
	return r.ID, nil
}

func (m *Memory) ListPriceHistorySince(_ context.Context, since time.Time) ([]model.PriceHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PriceHistoryRecord
	for _, r := range m.prices {
		if !r.AuctionDate.Before(since) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b model.PriceHistoryRecord) int {
		return a.AuctionDate.Compare(b.AuctionDate)
	})
	return out, nil
}

func (m *Memory) Comparables(_ context.Context, manufacturerKey, modelKey, condition string, limit int) ([]model.PriceHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PriceHistoryRecord
	for _, r := range m.prices {
		if r.ManufacturerNormalized != manufacturerKey || r.ModelNormalized != modelKey {
			continue
		}
		if condition != "" && !equalPtr(r.Condition, condition) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b model.PriceHistoryRecord) int {
		if c := b.AuctionDate.Compare(a.AuctionDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Competitor metrics
// -----------------------------------------------------------------------------

func (m *Memory) InsertCompetitorMetric(_ context.Context, cm model.CompetitorMetric) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm.ID = m.id()
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = m.now()
	}
	m.metrics = append(m.metrics, cm)
	return cm.ID, nil
}

func (m *Memory) ListCompetitorMetrics(_ context.Context, category string) ([]model.CompetitorMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.CompetitorMetric
	for _, cm := range m.metrics {
		if category == "" || equalPtr(cm.Category, category) {
			out = append(out, cm)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Site cache
// -----------------------------------------------------------------------------

func (m *Memory) GetSiteCache(_ context.Context, sourceURL string) (model.SiteCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.siteCache[sourceURL]
	if !ok {
		return model.SiteCacheEntry{}, fmt.Errorf("site cache %q: %w", sourceURL, ErrNotFound)
	}
	e.DiscoveredURLs = slices.Clone(e.DiscoveredURLs)
	return e, nil
}

func (m *Memory) UpsertSiteCache(_ context.Context, e model.SiteCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.DiscoveredURLs = slices.Clone(e.DiscoveredURLs)
	m.siteCache[e.SourceURL] = e
	return nil
}

func (m *Memory) ExpireSiteCache(_ context.Context, sourceURL string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.siteCache[sourceURL]; ok {
		e.ExpiresAt = at
		m.siteCache[sourceURL] = e
	}
	return nil
}

func (m *Memory) ListSiteCache(context.Context) ([]model.SiteCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.SiteCacheEntry, 0, len(m.siteCache))
	for _, e := range m.siteCache {
		e.DiscoveredURLs = slices.Clone(e.DiscoveredURLs)
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b model.SiteCacheEntry) int {
		return cmp.Compare(a.SourceURL, b.SourceURL)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

func cloneCriteria(c model.AlertCriteria) model.AlertCriteria {
	if c.MaxPrice != nil {
		p := *c.MaxPrice
		c.MaxPrice = &p
	}
	return c
}

func (m *Memory) CreateAlert(_ context.Context, a model.UserAlert) (model.UserAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = m.id()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now()
	}
	a.Criteria = cloneCriteria(a.Criteria)
	m.alerts[a.ID] = a
	return a, nil
}

func (m *Memory) GetAlert(_ context.Context, id int64) (model.UserAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return model.UserAlert{}, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) UpdateAlert(_ context.Context, id int64, criteria model.AlertCriteria, active *bool) (model.UserAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return model.UserAlert{}, fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	a.Criteria = cloneCriteria(criteria)
	if active != nil {
		a.Active = *active
	}
	m.alerts[id] = a
	return a, nil
}

func (m *Memory) DeleteAlert(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[id]; !ok {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	delete(m.alerts, id)
	return nil
}

func (m *Memory) ListAlertsByUser(_ context.Context, userID int64) ([]model.UserAlert, error) {
	return m.listAlerts(func(a model.UserAlert) bool { return a.UserID == userID }), nil
}

func (m *Memory) ListActiveAlerts(context.Context) ([]model.UserAlert, error) {
	return m.listAlerts(func(a model.UserAlert) bool { return a.Active }), nil
}

func (m *Memory) listAlerts(keep func(model.UserAlert) bool) []model.UserAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.UserAlert
	for _, a := range m.alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.UserAlert) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *Memory) TouchAlert(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("alert %d: %w", id, ErrNotFound)
	}
	a.LastTriggered = &at
	m.alerts[id] = a
	return nil
}

var _ Store = (*Memory)(nil)
