package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) (*Engine, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(st, opts...), st
}

func addSales(t *testing.T, e *Engine, manufacturer, modelName string, prices ...float64) {
	t.Helper()
	for i, p := range prices {
		_, err := e.RecordSale(context.Background(), Sale{
			Manufacturer: manufacturer,
			Model:        modelName,
			SalePrice:    p,
			AuctionDate:  testNow.AddDate(0, 0, -(i + 1)),
		})
		if err != nil {
			t.Fatalf("RecordSale: %v", err)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestFindComparablesStatistics(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		avg    float64
		median float64
		min    float64
		max    float64
	}{
		{"odd count", []float64{100, 200, 300}, 200, 200, 100, 300},
		{"even count takes upper middle", []float64{100, 200, 300, 400}, 250, 300, 100, 400},
		{"single", []float64{500}, 500, 500, 500, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t)
			addSales(t, e, "Colt", "Python", tt.prices...)

			got, err := e.FindComparables(context.Background(), "Colt", "Python", "", 10)
			if err != nil {
				t.Fatalf("FindComparables: %v", err)
			}
			if got.AveragePrice != tt.avg {
				t.Errorf("AveragePrice = %v, want %v", got.AveragePrice, tt.avg)
			}
			if got.MedianPrice != tt.median {
				t.Errorf("MedianPrice = %v, want %v", got.MedianPrice, tt.median)
			}
			if got.MinPrice != tt.min || got.MaxPrice != tt.max {
				t.Errorf("Min/Max = %v/%v, want %v/%v", got.MinPrice, got.MaxPrice, tt.min, tt.max)
			}
			if got.SampleSize != len(tt.prices) {
				t.Errorf("SampleSize = %d, want %d", got.SampleSize, len(tt.prices))
			}
		})
	}
}

func TestFindComparablesDeviation(t *testing.T) {
	e, _ := newEngine(t)
	addSales(t, e, "Colt", "Python", 100, 200, 300)

	got, err := e.FindComparables(context.Background(), "Colt", "Python", "", 10)
	if err != nil {
		t.Fatalf("FindComparables: %v", err)
	}
	// stddev of {100,200,300} is 81.65; / 200 = 40.82%
	want := math.Round(math.Sqrt(20000.0/3)/200*100*100) / 100
	if got.PriceDeviation != want {
		t.Errorf("PriceDeviation = %v, want %v", got.PriceDeviation, want)
	}
}

func TestFindComparablesMatching(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	addSales(t, e, "  COLT ", "Python", 1000)
	addSales(t, e, "Colt", "Python 2020", 5000)
	if _, err := e.RecordSale(ctx, Sale{Manufacturer: "colt", Model: "python", Condition: "Excellent", SalePrice: 2000, AuctionDate: testNow}); err != nil {
		t.Fatal(err)
	}

	got, err := e.FindComparables(ctx, "colt", " PYTHON", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleSize != 2 {
		t.Errorf("SampleSize = %d, want 2 (exact model match only)", got.SampleSize)
	}
	if got.Comparables[0].SalePrice != 2000 {
		t.Errorf("first comparable = %v, want newest (2000)", got.Comparables[0].SalePrice)
	}

	got, err = e.FindComparables(ctx, "Colt", "Python", "Excellent", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleSize != 1 || got.Comparables[0].Condition != "Excellent" {
		t.Errorf("condition filter: got %+v", got)
	}
}

func TestFindComparablesLimit(t *testing.T) {
	e, _ := newEngine(t)
	addSales(t, e, "Ruger", "10/22", 100, 110, 120, 130, 140, 150, 160)

	got, err := e.FindComparables(context.Background(), "Ruger", "10/22", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleSize != 6 {
		t.Errorf("SampleSize = %d, want 6 (2×limit)", got.SampleSize)
	}
	if len(got.Comparables) != 3 {
		t.Errorf("len(Comparables) = %d, want 3", len(got.Comparables))
	}
}

func TestFindComparablesEmpty(t *testing.T) {
	e, _ := newEngine(t)
	got, err := e.FindComparables(context.Background(), "Nobody", "Nothing", "", 10)
	if err != nil {
		t.Fatalf("FindComparables: %v", err)
	}
	if got.SampleSize != 0 || got.AveragePrice != 0 || got.Comparables == nil || len(got.Comparables) != 0 {
		t.Errorf("got %+v, want zero analysis with empty comparables", got)
	}
}

type comparableFunc func(ctx context.Context, m, mo, c string, limit int) ([]model.PriceHistoryRecord, error)

func (f comparableFunc) Comparables(ctx context.Context, m, mo, c string, limit int) ([]model.PriceHistoryRecord, error) {
	return f(ctx, m, mo, c, limit)
}

func TestComparableSourceOverride(t *testing.T) {
	var gotLimit int
	var gotKeys [2]string
	src := comparableFunc(func(_ context.Context, m, mo, _ string, limit int) ([]model.PriceHistoryRecord, error) {
		gotLimit = limit
		gotKeys = [2]string{m, mo}
		return []model.PriceHistoryRecord{{SalePrice: 10, AuctionDate: testNow}}, nil
	})
	e, _ := newEngine(t, WithComparableSource(src), WithComparableLimit(4))

	got, err := e.FindComparables(context.Background(), " Smith & Wesson ", "Model 29", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if gotLimit != 8 {
		t.Errorf("lookup limit = %d, want 8", gotLimit)
	}
	if gotKeys != [2]string{"smith & wesson", "model 29"} {
		t.Errorf("keys = %q", gotKeys)
	}
	if got.SampleSize != 1 {
		t.Errorf("SampleSize = %d, want 1", got.SampleSize)
	}

	boom := errors.New("index down")
	e, _ = newEngine(t, WithComparableSource(comparableFunc(func(context.Context, string, string, string, int) ([]model.PriceHistoryRecord, error) {
		return nil, boom
	})))
	if _, err := e.FindComparables(context.Background(), "a", "b", "", 0); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func insertListing(t *testing.T, st *store.Memory, l model.AuctionListing) int64 {
	t.Helper()
	if l.Status == "" {
		l.Status = model.StatusActive
	}
	if l.EnrichmentStatus == "" {
		l.EnrichmentStatus = model.EnrichmentCompleted
	}
	id, err := st.InsertListing(context.Background(), l)
	if err != nil {
		t.Fatalf("InsertListing: %v", err)
	}
	return id
}

func TestFindOpportunitiesThreshold(t *testing.T) {
	tests := []struct {
		threshold float64
		want      int
	}{
		{20, 1},
		{21, 0},
		{0, 1},
	}

	for _, tt := range tests {
		e, st := newEngine(t)
		addSales(t, e, "Colt", "Python", 900, 1000, 1100)
		insertListing(t, st, model.AuctionListing{
			URL:          "https://example.com/lot/1",
			Title:        "Colt Python",
			Manufacturer: ptr("Colt"),
			Model:        ptr("Python"),
			CurrentBid:   ptr(800.0),
		})

		got, err := e.FindOpportunities(context.Background(), tt.threshold)
		if err != nil {
			t.Fatalf("FindOpportunities: %v", err)
		}
		if len(got) != tt.want {
			t.Fatalf("threshold %v: len = %d, want %d", tt.threshold, len(got), tt.want)
		}
		if tt.want == 1 {
			o := got[0]
			if o.Deviation != 20.0 || o.Estimate != 1000 || o.CurrentBid != 800 {
				t.Errorf("opportunity = %+v", o)
			}
			if o.Title != "Colt Python" {
				t.Errorf("Title = %q", o.Title)
			}
			if !o.AuctionDate.Equal(testNow) {
				t.Errorf("AuctionDate = %v, want now when unknown", o.AuctionDate)
			}
		}
	}
}

func TestFindOpportunitiesSkips(t *testing.T) {
	e, st := newEngine(t)
	addSales(t, e, "Colt", "Python", 1000, 1000)
	addSales(t, e, "Ruger", "Mini-14", 1000, 1000, 1000)

	insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/two-comps", Manufacturer: ptr("Colt"), Model: ptr("Python"), CurrentBid: ptr(10.0),
	})
	insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/pending", Manufacturer: ptr("Ruger"), Model: ptr("Mini-14"), CurrentBid: ptr(10.0),
		EnrichmentStatus: model.EnrichmentPending,
	})
	insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/sold", Manufacturer: ptr("Ruger"), Model: ptr("Mini-14"), CurrentBid: ptr(10.0),
		Status: model.StatusSold,
	})
	insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/no-bid", Manufacturer: ptr("Ruger"), Model: ptr("Mini-14"),
	})

	got, err := e.FindOpportunities(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want none", got)
	}
}

func TestFindOpportunitiesOrdering(t *testing.T) {
	e, st := newEngine(t)
	addSales(t, e, "Colt", "Python", 1000, 1000, 1000)
	small := insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/a", Manufacturer: ptr("Colt"), Model: ptr("Python"), CurrentBid: ptr(700.0),
	})
	big := insertListing(t, st, model.AuctionListing{
		URL: "https://example.com/b", Manufacturer: ptr("Colt"), Model: ptr("Python"), CurrentBid: ptr(400.0),
	})

	got, err := e.FindOpportunities(context.Background(), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != big || got[1].ID != small {
		t.Errorf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, big, small)
	}
}

func TestMarketShares(t *testing.T) {
	tests := []struct {
		name    string
		volumes []int
		want    []float64
	}{
		{"equal thirds", []int{1, 1, 1}, []float64{33.34, 33.33, 33.33}},
		{"even split", []int{600, 300, 100}, []float64{60, 30, 10}},
		{"two thirds", []int{2, 1}, []float64{66.67, 33.33}},
		{"seven ways", []int{1, 1, 1, 1, 1, 1, 1}, []float64{14.29, 14.29, 14.29, 14.29, 14.28, 14.28, 14.28}},
		{"zero volume", []int{0, 0}, []float64{0, 0}},
		{"none", nil, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := marketShares(tt.volumes)
			if len(got) != len(tt.want) {
				t.Fatalf("marketShares(%v) = %v, want %v", tt.volumes, got, tt.want)
			}
			var hundredths int64
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("share[%d] = %v, want %v", i, got[i], tt.want[i])
				}
				hundredths += int64(math.Round(got[i] * 100))
			}
			if len(got) > 0 && tt.volumes[0] > 0 && hundredths != 10000 {
				t.Errorf("shares %v sum to %d hundredths, want 10000", got, hundredths)
			}
		})
	}
}

func TestCompetitorComparisonMarketShare(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	for _, m := range []model.CompetitorMetric{
		{AuctionHouse: "Small", Category: ptr("Rifles"), AvgSalePrice: 500, TotalVolume: 100, RealizationRate: 90},
		{AuctionHouse: "Large", Category: ptr("Rifles"), AvgSalePrice: 800, TotalVolume: 400, RealizationRate: 100},
		{AuctionHouse: "Large", Category: ptr("Rifles"), AvgSalePrice: 1000, TotalVolume: 200, RealizationRate: 110},
		{AuctionHouse: "Mid", Category: ptr("Rifles"), AvgSalePrice: 700, TotalVolume: 300, RealizationRate: 95},
		{AuctionHouse: "Other", Category: ptr("Pistols"), AvgSalePrice: 300, TotalVolume: 50, RealizationRate: 80},
	} {
		if _, err := st.InsertCompetitorMetric(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.CompetitorComparison(ctx, "Rifles")
	if err != nil {
		t.Fatal(err)
	}

	wantNames := []string{"Large", "Mid", "Small"}
	wantShares := []float64{60, 30, 10}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	var total float64
	for i, c := range got {
		if c.Name != wantNames[i] {
			t.Errorf("[%d].Name = %q, want %q", i, c.Name, wantNames[i])
		}
		if c.MarketShare != wantShares[i] {
			t.Errorf("[%d].MarketShare = %v, want %v", i, c.MarketShare, wantShares[i])
		}
		total += c.MarketShare
	}
	if total != 100 {
		t.Errorf("market share sum = %v, want 100", total)
	}

	large := got[0]
	if large.TotalVolume != 600 || large.AvgSalePrice != 900 || large.RealizationRate != 105 {
		t.Errorf("Large = %+v, want volume 600, avg 900, rate 105", large)
	}

	all, err := e.CompetitorComparison(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("unfiltered len = %d, want 4", len(all))
	}
}

func TestUpdateCompetitorMetrics(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	in := testNow.AddDate(0, 0, -5)
	out := testNow.AddDate(0, -2, 0)

	base := model.AuctionListing{AuctionHouse: ptr("Acme"), Category: ptr("Rifles"), Status: model.StatusSold, AuctionDate: &in}
	rows := []model.AuctionListing{
		{URL: "https://acme.test/1", CurrentBid: ptr(1200.0), EstimateLow: ptr(800.0), EstimateHigh: ptr(1200.0)},
		{URL: "https://acme.test/2", CurrentBid: ptr(800.0)},
		{URL: "https://acme.test/3"},
	}
	for _, r := range rows {
		l := base
		l.URL, l.CurrentBid, l.EstimateLow, l.EstimateHigh = r.URL, r.CurrentBid, r.EstimateLow, r.EstimateHigh
		insertListing(t, st, l)
	}
	old := base
	old.URL, old.AuctionDate, old.CurrentBid = "https://acme.test/old", &out, ptr(99999.0)
	insertListing(t, st, old)
	active := base
	active.URL, active.Status, active.CurrentBid = "https://acme.test/active", model.StatusActive, ptr(99999.0)
	insertListing(t, st, active)

	r := DateRange{Start: testNow.AddDate(0, -1, 0), End: testNow}
	m, err := e.UpdateCompetitorMetrics(ctx, "Acme", "Rifles", r)
	if err != nil {
		t.Fatalf("UpdateCompetitorMetrics: %v", err)
	}
	if m == nil {
		t.Fatal("metric = nil, want snapshot")
	}
	if m.TotalVolume != 3 {
		t.Errorf("TotalVolume = %d, want 3", m.TotalVolume)
	}
	if m.AvgSalePrice != 1000 {
		t.Errorf("AvgSalePrice = %v, want 1000", m.AvgSalePrice)
	}
	if m.RealizationRate != 120 {
		t.Errorf("RealizationRate = %v, want 120", m.RealizationRate)
	}

	if _, err := e.UpdateCompetitorMetrics(ctx, "Acme", "Rifles", r); err != nil {
		t.Fatal(err)
	}
	snapshots, _ := st.ListCompetitorMetrics(ctx, "Rifles")
	if len(snapshots) != 2 {
		t.Errorf("snapshots = %d, want 2 (append only)", len(snapshots))
	}
}

func TestUpdateCompetitorMetricsNothingSold(t *testing.T) {
	e, st := newEngine(t)
	m, err := e.UpdateCompetitorMetrics(context.Background(), "Nobody", "Rifles", DateRange{Start: testNow.AddDate(0, -1, 0), End: testNow})
	if err != nil || m != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", m, err)
	}
	snapshots, _ := st.ListCompetitorMetrics(context.Background(), "")
	if len(snapshots) != 0 {
		t.Errorf("snapshots = %d, want 0", len(snapshots))
	}
}

func TestUpdateCompetitorMetricsDefaultRealization(t *testing.T) {
	e, st := newEngine(t)
	d := testNow.AddDate(0, 0, -1)
	insertListing(t, st, model.AuctionListing{
		URL: "https://acme.test/1", AuctionHouse: ptr("Acme"), Category: ptr("Rifles"),
		Status: model.StatusSold, AuctionDate: &d, CurrentBid: ptr(500.0),
	})

	m, err := e.UpdateCompetitorMetrics(context.Background(), "Acme", "Rifles", DateRange{Start: testNow.AddDate(0, 0, -7), End: testNow})
	if err != nil {
		t.Fatal(err)
	}
	if m.RealizationRate != 100 {
		t.Errorf("RealizationRate = %v, want 100 without estimates", m.RealizationRate)
	}
}

func TestPriceTrends(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	day := func(d int, hour int) time.Time {
		return time.Date(2026, 4, d, hour, 0, 0, 0, time.UTC)
	}
	for _, r := range []model.PriceHistoryRecord{
		{Manufacturer: "A", Model: "1", SalePrice: 100, AuctionDate: day(20, 9)},
		{Manufacturer: "B", Model: "2", SalePrice: 301, AuctionDate: day(20, 18)},
		{Manufacturer: "C", Model: "3", SalePrice: 50, AuctionDate: day(10, 12)},
		{Manufacturer: "D", Model: "4", SalePrice: 9999, AuctionDate: testNow.AddDate(0, 0, -40)},
	} {
		if _, err := st.InsertPriceRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.PriceTrends(ctx, "Rifles", 30)
	if err != nil {
		t.Fatalf("PriceTrends: %v", err)
	}
	want := []PriceTrend{
		{Date: "2026-04-10", AvgPrice: 50, Volume: 1},
		{Date: "2026-04-20", AvgPrice: 200.5, Volume: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	again, _ := e.PriceTrends(ctx, "Rifles", 30)
	if len(again) != len(got) {
		t.Errorf("second call len = %d, want %d", len(again), len(got))
	}
}

func TestRecordSaleValidation(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		sale    Sale
		wantErr bool
	}{
		{"valid", Sale{Manufacturer: "Colt", Model: "1911", SalePrice: 900}, false},
		{"missing model", Sale{Manufacturer: "Colt", SalePrice: 900}, true},
		{"blank manufacturer", Sale{Manufacturer: "  ", Model: "1911", SalePrice: 900}, true},
		{"zero price", Sale{Manufacturer: "Colt", Model: "1911"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.RecordSale(ctx, tt.sale)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	recs, _ := st.ListPriceHistorySince(ctx, testNow.AddDate(0, 0, -1))
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].ManufacturerNormalized != "colt" || !recs[0].AuctionDate.Equal(testNow) {
		t.Errorf("record = %+v", recs[0])
	}
}
