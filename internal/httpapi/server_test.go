package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/auction-intel/internal/alerts"
	"github.com/rickgao/auction-intel/internal/analytics"
	"github.com/rickgao/auction-intel/internal/enrich"
	"github.com/rickgao/auction-intel/internal/ingest"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/queue"
	"github.com/rickgao/auction-intel/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// mockScraper records StartScrape calls and serves a settable progress.
type mockScraper struct {
	mu       sync.Mutex
	progress ingest.Progress
	running  bool
	starts   int
	byURL    func(url string) (model.AuctionListing, error)
}

func (m *mockScraper) StartScrape(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	m.starts++
	return true
}

func (m *mockScraper) Progress() ingest.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

func (m *mockScraper) setProgress(p ingest.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = p
}

func (m *mockScraper) LastRunStats() ingest.RunStats {
	return ingest.RunStats{RunID: "run-1", Sources: []ingest.SourceStats{{Source: "A", Discovered: 4, Saved: 3}}}
}

func (m *mockScraper) ScrapeByURL(_ context.Context, url string) (model.AuctionListing, error) {
	if m.byURL == nil {
		return model.AuctionListing{}, ingest.ErrNoAuctionData
	}
	return m.byURL(url)
}

// mockEnricher counts calls and records batch IDs.
type mockEnricher struct {
	mu      sync.Mutex
	batches [][]int64
	enrich  func(id int64) (*enrich.Result, error)
}

func (m *mockEnricher) Enrich(_ context.Context, id int64) (*enrich.Result, error) {
	return m.enrich(id)
}

func (m *mockEnricher) EnrichBatch(_ context.Context, ids []int64, _ int) (enrich.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, ids)
	return enrich.BatchResult{Successful: len(ids)}, nil
}

type mockQueue struct{}

func (mockQueue) Status() queue.Status { return queue.Status{QueueLength: 2} }

// pingStore fails Ping while down is set.
type pingStore struct {
	*store.Memory
	down atomic.Bool
}

func (p *pingStore) Ping(ctx context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	store    *pingStore
	scraper  *mockScraper
	enricher *mockEnricher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := &pingStore{Memory: store.NewMemory()}
	clock := func() time.Time { return testNow }

	f := &fixture{
		store:   st,
		scraper: &mockScraper{},
		enricher: &mockEnricher{enrich: func(id int64) (*enrich.Result, error) {
			return nil, fmt.Errorf("auction %d: %w", id, enrich.ErrAuctionNotFound)
		}},
	}
	f.srv = New(Deps{
		Store:     st,
		Scraper:   f.scraper,
		Enricher:  f.enricher,
		Queue:     mockQueue{},
		Analytics: analytics.New(st.Memory, analytics.WithClock(clock)),
		Alerts:    alerts.New(st.Memory, alerts.WithClock(clock), alerts.WithNotifier(alerts.NotifierFunc(func(context.Context, alerts.Match) error { return nil }))),
	}, cfg, WithClock(clock))
	f.http = httptest.NewServer(f.srv.Routes())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) insert(t *testing.T, l model.AuctionListing) int64 {
	t.Helper()
	id, err := f.store.InsertListing(context.Background(), l)
	if err != nil {
		t.Fatalf("InsertListing: %v", err)
	}
	return id
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPingAndHealth(t *testing.T) {
	f := newFixture(t, Config{})

	resp, body := f.do(t, http.MethodGet, "/api/ping", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("ping = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	components := body["components"].(map[string]any)
	if components["database"] != "connected" {
		t.Errorf("database component = %v", components["database"])
	}

	f.store.down.Store(true)
	resp, body = f.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Errorf("health when down = %d %v", resp.StatusCode, body)
	}
}

func TestListAuctions(t *testing.T) {
	f := newFixture(t, Config{})
	f.insert(t, model.AuctionListing{URL: "https://a.test/1", Title: "Colt", Manufacturer: ptr("Colt Firearms"), CurrentBid: ptr(900.0), ScrapedAt: testNow.Add(-2 * time.Hour)})
	newest := f.insert(t, model.AuctionListing{URL: "https://a.test/2", Title: "Colt 2", Manufacturer: ptr("Colt"), CurrentBid: ptr(1500.0), ScrapedAt: testNow.Add(-time.Hour)})
	f.insert(t, model.AuctionListing{URL: "https://a.test/3", Title: "Ruger", Manufacturer: ptr("Ruger"), ScrapedAt: testNow})
	f.insert(t, model.AuctionListing{URL: "https://a.test/4", Title: "Sold Colt", Manufacturer: ptr("Colt"), Status: model.StatusSold, ScrapedAt: testNow})

	tests := []struct {
		query string
		count int
	}{
		{"", 3},
		{"?manufacturer=colt", 2},
		{"?manufacturer=colt&maxPrice=1000", 1},
		{"?minPrice=1000", 1},
		{"?limit=1", 1},
		{"?limit=2&offset=2", 1},
	}
	for _, tt := range tests {
		resp, body := f.do(t, http.MethodGet, "/api/firearms/auctions"+tt.query, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, resp.StatusCode)
		}
		if got := int(body["count"].(float64)); got != tt.count {
			t.Errorf("%s: count = %d, want %d", tt.query, got, tt.count)
		}
	}

	_, body := f.do(t, http.MethodGet, "/api/firearms/auctions?manufacturer=colt", nil)
	first := body["auctions"].([]any)[0].(map[string]any)
	if int64(first["id"].(float64)) != newest {
		t.Errorf("first id = %v, want newest scraped %d", first["id"], newest)
	}

	resp, _ := f.do(t, http.MethodGet, "/api/firearms/auctions?limit=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestGetAuction(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.insert(t, model.AuctionListing{URL: "https://a.test/1", Title: "Colt"})

	resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/firearms/auctions/%d", id), nil)
	if resp.StatusCode != http.StatusOK || body["auction"].(map[string]any)["title"] != "Colt" {
		t.Errorf("get = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/firearms/auctions/999", nil)
	if resp.StatusCode != http.StatusNotFound || body["success"] != false {
		t.Errorf("missing = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/firearms/auctions/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", resp.StatusCode)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, Config{})

	resp, body := f.do(t, http.MethodPost, "/api/firearms/refresh", nil)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Errorf("first refresh = %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/firearms/refresh", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second refresh status = %d, want 409", resp.StatusCode)
	}
	if f.scraper.starts != 1 {
		t.Errorf("starts = %d, want 1", f.scraper.starts)
	}
}

func TestScrapeURL(t *testing.T) {
	f := newFixture(t, Config{})

	resp, _ := f.do(t, http.MethodPost, "/api/firearms/scrape-url", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/firearms/scrape-url", map[string]string{"url": "https://a.test/lot"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("no data status = %d, want 422", resp.StatusCode)
	}

	f.scraper.byURL = func(url string) (model.AuctionListing, error) {
		return model.AuctionListing{ID: 9, URL: url, Title: "Lot"}, nil
	}
	resp, body := f.do(t, http.MethodPost, "/api/firearms/scrape-url", map[string]string{"url": "https://a.test/lot"})
	if resp.StatusCode != http.StatusOK || body["auction"].(map[string]any)["url"] != "https://a.test/lot" {
		t.Errorf("scrape-url = %d %v", resp.StatusCode, body)
	}
}

func TestEnrichSingle(t *testing.T) {
	f := newFixture(t, Config{})

	resp, _ := f.do(t, http.MethodPost, "/api/firearms/enrich/5", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}

	f.enricher.enrich = func(id int64) (*enrich.Result, error) {
		return nil, errors.New("model overloaded")
	}
	resp, body := f.do(t, http.MethodPost, "/api/firearms/enrich/5", nil)
	if resp.StatusCode != http.StatusInternalServerError || body["message"] != "model overloaded" {
		t.Errorf("failure = %d %v", resp.StatusCode, body)
	}

	f.enricher.enrich = func(id int64) (*enrich.Result, error) {
		return &enrich.Result{Listing: model.AuctionListing{ID: id}, SoldStatus: "unknown"}, nil
	}
	resp, body = f.do(t, http.MethodPost, "/api/firearms/enrich/5", nil)
	if resp.StatusCode != http.StatusOK || body["enrichment"] == nil {
		t.Errorf("success = %d %v", resp.StatusCode, body)
	}
}

func TestEnrichAll(t *testing.T) {
	f := newFixture(t, Config{})
	pending := f.insert(t, model.AuctionListing{URL: "https://a.test/1"})
	done := f.insert(t, model.AuctionListing{URL: "https://a.test/2", EnrichmentStatus: model.EnrichmentCompleted})

	resp, body := f.do(t, http.MethodPost, "/api/firearms/enrich-all", nil)
	if resp.StatusCode != http.StatusOK || body["message"] != "Enriching 1 auctions in background" {
		t.Errorf("enrich-all = %d %v", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPost, "/api/firearms/enrich-all", map[string]bool{"force": true})
	if resp.StatusCode != http.StatusOK || body["message"] != "Enriching 2 auctions in background" {
		t.Errorf("forced enrich-all = %d %v", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.srv.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	f.enricher.mu.Lock()
	defer f.enricher.mu.Unlock()
	if len(f.enricher.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(f.enricher.batches))
	}
	var sawPendingOnly, sawAll bool
	for _, b := range f.enricher.batches {
		switch {
		case len(b) == 1 && b[0] == pending:
			sawPendingOnly = true
		case len(b) == 2 && b[0] == pending && b[1] == done:
			sawAll = true
		}
	}
	if !sawPendingOnly || !sawAll {
		t.Errorf("batches = %v", f.enricher.batches)
	}
}

func TestEndingSoonAndCategories(t *testing.T) {
	f := newFixture(t, Config{})
	later := testNow.Add(20 * time.Hour)
	sooner := testNow.Add(2 * time.Hour)
	past := testNow.Add(-time.Hour)
	farOut := testNow.Add(48 * time.Hour)

	a := f.insert(t, model.AuctionListing{URL: "https://a.test/1", AuctionDate: &later, Category: ptr("Rifles")})
	b := f.insert(t, model.AuctionListing{URL: "https://a.test/2", AuctionDate: &sooner, Category: ptr("Rifles")})
	f.insert(t, model.AuctionListing{URL: "https://a.test/3", AuctionDate: &past, Category: ptr("Handguns")})
	f.insert(t, model.AuctionListing{URL: "https://a.test/4", AuctionDate: &farOut})

	_, body := f.do(t, http.MethodGet, "/api/firearms/ending-soon", nil)
	auctions := body["auctions"].([]any)
	if len(auctions) != 2 {
		t.Fatalf("ending soon = %d, want 2", len(auctions))
	}
	ids := []int64{
		int64(auctions[0].(map[string]any)["id"].(float64)),
		int64(auctions[1].(map[string]any)["id"].(float64)),
	}
	if ids[0] != b || ids[1] != a {
		t.Errorf("order = %v, want [%d %d]", ids, b, a)
	}

	_, body = f.do(t, http.MethodGet, "/api/firearms/categories", nil)
	categories := body["categories"].([]any)
	if len(categories) != 2 {
		t.Fatalf("categories = %v", categories)
	}
	top := categories[0].(map[string]any)
	if top["category"] != "Rifles" || top["count"].(float64) != 2 {
		t.Errorf("top category = %v", top)
	}
}

func TestIntelligenceEndpoints(t *testing.T) {
	f := newFixture(t, Config{})

	for _, price := range []float64{900, 1000, 1100} {
		resp, body := f.do(t, http.MethodPost, "/api/intelligence/sales", map[string]any{
			"manufacturer": "Colt", "model": "Python", "salePrice": price, "auctionDate": testNow.Add(-24 * time.Hour),
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("record sale = %d %v", resp.StatusCode, body)
		}
	}
	f.insert(t, model.AuctionListing{
		URL: "https://a.test/1", Manufacturer: ptr("Colt"), Model: ptr("Python"), CurrentBid: ptr(800.0),
		EnrichmentStatus: model.EnrichmentCompleted, IsEstateSale: true,
	})

	resp, _ := f.do(t, http.MethodPost, "/api/intelligence/sales", map[string]any{"manufacturer": "Colt"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid sale status = %d, want 400", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/api/intelligence/price-history?manufacturer=colt&model=python", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("price-history = %d", resp.StatusCode)
	}
	analysis := body["analysis"].(map[string]any)
	if analysis["averagePrice"].(float64) != 1000 || analysis["sampleSize"].(float64) != 3 {
		t.Errorf("analysis = %v", analysis)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/intelligence/price-history?manufacturer=colt", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing model status = %d, want 400", resp.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/api/intelligence/opportunities?threshold=20", nil)
	if n := len(body["opportunities"].([]any)); n != 1 {
		t.Errorf("opportunities at 20 = %d, want 1", n)
	}
	_, body = f.do(t, http.MethodGet, "/api/intelligence/opportunities?threshold=21", nil)
	if n := len(body["opportunities"].([]any)); n != 0 {
		t.Errorf("opportunities at 21 = %d, want 0", n)
	}

	_, body = f.do(t, http.MethodGet, "/api/intelligence/pricing/Handguns?days=7", nil)
	trends := body["trends"].([]any)
	if len(trends) != 1 || trends[0].(map[string]any)["volume"].(float64) != 3 {
		t.Errorf("pricing trends = %v", trends)
	}

	_, body = f.do(t, http.MethodGet, "/api/analytics/dashboard", nil)
	m := body["metrics"].(map[string]any)
	if m["activeAuctions"].(float64) != 1 || m["opportunities"].(float64) != 1 || m["avgDeviation"].(float64) != 20 || m["estateSales"].(float64) != 1 {
		t.Errorf("dashboard = %v", m)
	}
}

func TestCompetitorEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	sold := testNow.Add(-48 * time.Hour)
	f.insert(t, model.AuctionListing{
		URL: "https://a.test/1", AuctionHouse: ptr("Acme"), Category: ptr("Rifles"),
		Status: model.StatusSold, AuctionDate: &sold, CurrentBid: ptr(500.0),
	})

	resp, _ := f.do(t, http.MethodPost, "/api/intelligence/competitors/snapshot", map[string]any{"auctionHouse": "Acme"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing category status = %d, want 400", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/intelligence/competitors/snapshot", map[string]any{"auctionHouse": "Acme", "category": "Rifles"})
	if resp.StatusCode != http.StatusOK || body["metric"] == nil {
		t.Fatalf("snapshot = %d %v", resp.StatusCode, body)
	}

	_, body = f.do(t, http.MethodGet, "/api/intelligence/competitors?category=Rifles", nil)
	competitors := body["competitors"].([]any)
	if len(competitors) != 1 || competitors[0].(map[string]any)["marketShare"].(float64) != 100 {
		t.Errorf("competitors = %v", competitors)
	}
}

func TestTrends(t *testing.T) {
	f := newFixture(t, Config{})
	f.insert(t, model.AuctionListing{URL: "https://a.test/1", Category: ptr("Rifles"), CurrentBid: ptr(100.0), ScrapedAt: testNow})
	f.insert(t, model.AuctionListing{URL: "https://a.test/2", Category: ptr("Rifles"), CurrentBid: ptr(300.0), ScrapedAt: testNow})
	f.insert(t, model.AuctionListing{URL: "https://a.test/3", Category: ptr("Rifles"), ScrapedAt: testNow.AddDate(0, 0, -8)})

	_, body := f.do(t, http.MethodGet, "/api/intelligence/trends", nil)
	trends := body["trends"].([]any)
	if len(trends) != 1 {
		t.Fatalf("trends = %v", trends)
	}
	row := trends[0].(map[string]any)
	if row["volume"].(float64) != 2 || row["avgBid"].(float64) != 200 {
		t.Errorf("trend = %v", row)
	}
}

func TestAlertEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	f.insert(t, model.AuctionListing{URL: "https://a.test/1", Manufacturer: ptr("Colt Firearms"), CurrentBid: ptr(900.0), ScrapedAt: testNow})

	resp, _ := f.do(t, http.MethodPost, "/api/alerts", map[string]any{"alertType": "price"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing criteria status = %d, want 400", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/api/alerts", map[string]any{"alertType": "rarity", "criteria": map[string]any{"minRarity": "Mythic"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid rarity status = %d, want 400", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"alertType": "price",
		"criteria":  map[string]any{"manufacturer": "Colt", "maxPrice": 1000},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	alert := body["alert"].(map[string]any)
	id := int64(alert["id"].(float64))
	if alert["userId"].(float64) != 1 {
		t.Errorf("userId = %v, want default 1", alert["userId"])
	}

	_, body = f.do(t, http.MethodGet, "/api/alerts", nil)
	if n := len(body["alerts"].([]any)); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}

	_, body = f.do(t, http.MethodPost, "/api/alerts/process", nil)
	result := body["result"].(map[string]any)
	if result["totalMatches"].(float64) != 1 || result["alertsSent"].(float64) != 1 {
		t.Errorf("process = %v", result)
	}

	_, body = f.do(t, http.MethodGet, "/api/alerts/triggered", nil)
	if n := len(body["alerts"].([]any)); n != 1 {
		t.Errorf("triggered = %d, want 1", n)
	}

	resp, body = f.do(t, http.MethodPut, fmt.Sprintf("/api/alerts/%d", id), map[string]any{
		"criteria": map[string]any{"manufacturer": "Colt", "maxPrice": 500},
		"active":   false,
	})
	if resp.StatusCode != http.StatusOK || body["alert"].(map[string]any)["active"] != false {
		t.Errorf("update = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPut, "/api/alerts/999", map[string]any{"criteria": map[string]any{}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/%d", id), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/%d", id), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoints(t *testing.T) {
	f := newFixture(t, Config{})
	f.insert(t, model.AuctionListing{URL: "https://a.test/1"})

	_, body := f.do(t, http.MethodGet, "/api/firearms/enrichment-stats", nil)
	stats := body["stats"].(map[string]any)
	if stats["total"].(float64) != 1 || stats["pending"].(float64) != 1 {
		t.Errorf("stats = %v", stats)
	}

	_, body = f.do(t, http.MethodGet, "/api/firearms/enrichment-queue", nil)
	if body["queue"].(map[string]any)["queueLength"].(float64) != 2 {
		t.Errorf("queue = %v", body["queue"])
	}

	_, body = f.do(t, http.MethodGet, "/api/firearms/scrape-stats", nil)
	coverage := body["coverage"].([]any)[0].(map[string]any)
	if coverage["coverage_percentage"].(float64) != 75 {
		t.Errorf("coverage = %v", coverage)
	}

	resp, _ := f.do(t, http.MethodGet, "/api/firearms/site-cache", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("site-cache without cache status = %d, want 404", resp.StatusCode)
	}
}

func TestScrapeRateLimit(t *testing.T) {
	f := newFixture(t, Config{ScrapeLimit: 2})

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/firearms/enrich-all", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}
	resp, body := f.do(t, http.MethodPost, "/api/firearms/enrich-all", nil)
	if resp.StatusCode != http.StatusTooManyRequests || body["success"] != false {
		t.Errorf("third request = %d %v, want 429", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// The general budget is separate.
	resp, _ = f.do(t, http.MethodGet, "/api/firearms/scrape-progress", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("progress status = %d, want 200", resp.StatusCode)
	}
	f.srv.Wait(context.Background())
}

func TestRateLimiterWindow(t *testing.T) {
	now := testNow
	l := newRateLimiter(2, time.Minute, func() time.Time { return now })

	for i, want := range []bool{true, true, false} {
		if ok, _ := l.allow("1.2.3.4"); ok != want {
			t.Errorf("request %d allowed = %v, want %v", i, ok, want)
		}
	}
	if ok, _ := l.allow("5.6.7.8"); !ok {
		t.Error("other client should have its own budget")
	}

	// One request refills every 30s.
	now = now.Add(15 * time.Second)
	ok, wait := l.allow("1.2.3.4")
	if ok {
		t.Error("request before the refill should be rejected")
	}
	if wait < 14*time.Second || wait > 16*time.Second {
		t.Errorf("wait = %v, want about 15s", wait)
	}

	now = now.Add(time.Minute)
	for i, want := range []bool{true, true, false} {
		if ok, _ := l.allow("1.2.3.4"); ok != want {
			t.Errorf("request %d after refill allowed = %v, want %v", i, ok, want)
		}
	}
	if len(l.clients) != 1 {
		t.Errorf("clients = %d, want idle clients swept", len(l.clients))
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, Config{})

	resp, _ := f.do(t, http.MethodGet, "/api/ping", nil)
	first := resp.Header.Get(RequestIDHeader)
	if first == "" {
		t.Error("response has no request ID")
	}
	resp, _ = f.do(t, http.MethodGet, "/api/ping", nil)
	if got := resp.Header.Get(RequestIDHeader); got == "" || got == first {
		t.Errorf("second request ID = %q, want a fresh ID other than %q", got, first)
	}

	const id = "3f1c2a9e-8b7d-4c6e-9f10-2a3b4c5d6e7f"
	req, _ := http.NewRequest(http.MethodGet, f.http.URL+"/api/ping", nil)
	req.Header.Set(RequestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(RequestIDHeader); got != id {
		t.Errorf("request ID = %q, want inbound %q", got, id)
	}
}

func TestProgressStream(t *testing.T) {
	f := newFixture(t, Config{ProgressInterval: 10 * time.Millisecond})
	f.scraper.setProgress(ingest.Progress{TotalSources: 3, Version: 1})

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/firearms/scrape-progress/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func() ingest.Progress {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Success  bool            `json:"success"`
			Progress ingest.Progress `json:"progress"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return msg.Progress
	}

	if p := read(); p.Version != 1 || p.TotalSources != 3 {
		t.Errorf("first = %+v", p)
	}

	f.scraper.setProgress(ingest.Progress{IsActive: true, CurrentSource: "A", TotalSources: 3, Version: 2})
	p := read()
	if p.Version != 2 || p.CurrentSource != "A" {
		t.Errorf("second = %+v", p)
	}
}
