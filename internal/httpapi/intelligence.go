package httpapi

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/auction-intel/internal/analytics"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

const (
	trendWindow     = 7 * 24 * time.Hour
	trendCategories = 10
)

func (s *Server) handleCompetitors(w http.ResponseWriter, r *http.Request) {
	competitors, err := s.deps.Analytics.CompetitorComparison(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"competitors": nonNil(competitors)})
}

func (s *Server) handleCompetitorSnapshot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuctionHouse string    `json:"auctionHouse"`
		Category     string    `json:"category"`
		Start        time.Time `json:"start"`
		End          time.Time `json:"end"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.AuctionHouse == "" || body.Category == "" {
		s.writeError(w, r, badRequest("auctionHouse and category are required"))
		return
	}
	if body.End.IsZero() {
		body.End = s.now()
	}
	if body.Start.IsZero() {
		body.Start = body.End.AddDate(0, 0, -30)
	}
	if body.End.Before(body.Start) {
		s.writeError(w, r, badRequest("end must not be before start"))
		return
	}

	metric, err := s.deps.Analytics.UpdateCompetitorMetrics(r.Context(), body.AuctionHouse, body.Category,
		analytics.DateRange{Start: body.Start, End: body.End})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if metric == nil {
		writeMessage(w, http.StatusOK, "No sold listings in range")
		return
	}
	writeOK(w, map[string]any{"metric": metric})
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", analytics.DefaultTrendDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trends, err := s.deps.Analytics.PriceTrends(r.Context(), chi.URLParam(r, "category"), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"trends": nonNil(trends)})
}

// categoryTrend is one row of the trending categories report.
type categoryTrend struct {
	Category string   `json:"category"`
	Volume   int      `json:"volume"`
	AvgBid   *float64 `json:"avgBid"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	since := s.now().Add(-trendWindow)
	counts, err := s.deps.Store.CategoryCounts(r.Context(), store.ListingFilter{
		Statuses:     []model.ListingStatus{model.StatusActive},
		ScrapedSince: &since,
		Limit:        trendCategories,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	trends := make([]categoryTrend, 0, len(counts))
	for _, c := range counts {
		trends = append(trends, categoryTrend{Category: c.Category, Volume: c.Count, AvgBid: c.AvgBid})
	}
	writeOK(w, map[string]any{"trends": trends})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	threshold := analytics.DefaultThreshold
	if t, err := queryFloat(r, "threshold"); err != nil {
		s.writeError(w, r, err)
		return
	} else if t != nil {
		threshold = *t
	}

	opportunities, err := s.deps.Analytics.FindOpportunities(r.Context(), threshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"opportunities": nonNil(opportunities)})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	manufacturer, modelName := strings.TrimSpace(q.Get("manufacturer")), strings.TrimSpace(q.Get("model"))
	if manufacturer == "" || modelName == "" {
		s.writeError(w, r, badRequest("Manufacturer and model are required"))
		return
	}
	limit, err := queryInt(r, "limit", analytics.DefaultComparableLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	analysis, err := s.deps.Analytics.FindComparables(r.Context(), manufacturer, modelName, q.Get("condition"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"analysis": analysis})
}

func (s *Server) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var sale analytics.Sale
	if err := decodeBody(w, r, &sale); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(sale.Manufacturer) == "" || strings.TrimSpace(sale.Model) == "" || sale.SalePrice <= 0 {
		s.writeError(w, r, badRequest("manufacturer, model and a positive salePrice are required"))
		return
	}

	id, err := s.deps.Analytics.RecordSale(r.Context(), sale)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"id": id})
}

// DashboardMetrics is the composite dashboard summary.
type DashboardMetrics struct {
	ActiveAuctions int                   `json:"activeAuctions"`
	EndingSoon     int                   `json:"endingSoon"`
	Opportunities  int                   `json:"opportunities"`
	AvgDeviation   float64               `json:"avgDeviation"`
	EstateSales    int                   `json:"estateSales"`
	Enrichment     model.EnrichmentStats `json:"enrichment"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var m DashboardMetrics
	var opportunities []analytics.OpportunityItem
	active := []model.ListingStatus{model.StatusActive}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := s.deps.Store.CountListings(ctx, store.ListingFilter{Statuses: active})
		m.ActiveAuctions = n
		return err
	})
	g.Go(func() error {
		n, err := s.deps.Store.CountListings(ctx, s.endingSoonFilter())
		m.EndingSoon = n
		return err
	})
	g.Go(func() error {
		var err error
		opportunities, err = s.deps.Analytics.FindOpportunities(ctx, s.cfg.OpportunityThreshold)
		return err
	})
	g.Go(func() error {
		var err error
		m.Enrichment, err = s.deps.Store.EnrichmentStats(ctx)
		return err
	})
	g.Go(func() error {
		n, err := s.deps.Store.CountListings(ctx, store.ListingFilter{Statuses: active, EstateSalesOnly: true})
		m.EstateSales = n
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}

	m.Opportunities = len(opportunities)
	if len(opportunities) > 0 {
		var sum float64
		for _, o := range opportunities {
			sum += o.Deviation
		}
		m.AvgDeviation = math.Round(sum/float64(len(opportunities))*100) / 100
	}
	writeOK(w, map[string]any{"metrics": m})
}
