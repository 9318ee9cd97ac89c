package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/auction-intel/internal/api"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/sitecache"
	"github.com/rickgao/auction-intel/internal/store"
)

func ptr[T any](v T) *T { return &v }

// mockExtractor serves canned candidates per site and records calls.
type mockExtractor struct {
	mu        sync.Mutex
	site      map[string][]Candidate
	siteErr   map[string]error
	pages     map[string][]Candidate
	links     map[string][]string
	siteCalls []string
	pageCalls [][]string
}

func (m *mockExtractor) Discover(_ context.Context, siteURL string) ([]string, error) {
	return m.links[siteURL], nil
}

func (m *mockExtractor) ExtractSite(_ context.Context, src Source) ([]Candidate, error) {
	m.mu.Lock()
	m.siteCalls = append(m.siteCalls, src.URL)
	m.mu.Unlock()
	if err := m.siteErr[src.URL]; err != nil {
		return nil, err
	}
	return m.site[src.URL], nil
}

func (m *mockExtractor) ExtractPages(_ context.Context, urls []string) ([]Candidate, error) {
	m.mu.Lock()
	m.pageCalls = append(m.pageCalls, urls)
	m.mu.Unlock()
	var out []Candidate
	for _, u := range urls {
		out = append(out, m.pages[u]...)
	}
	return out, nil
}

// mockQueue records enqueued IDs.
type mockQueue struct {
	mu  sync.Mutex
	ids []int64
}

func (q *mockQueue) Add(id int64, p model.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p != model.PriorityNormal {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

var (
	siteA = Source{Name: "Alpha Auctions", URL: "https://alpha.example.com/", City: "Dallas", State: "TX", Category: CategoryCompetitor}
	siteB = Source{Name: "Bravo Estate", URL: "https://bravo.example.org/", City: "Tulsa", State: "OK", Category: CategoryEstate}
)

type fixture struct {
	store *store.Memory
	ext   *mockExtractor
	queue *mockQueue
	cache *sitecache.Cache
	now   time.Time
	coord *Coordinator
}

func newFixture(t *testing.T, sources ...Source) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		ext: &mockExtractor{
			site:    map[string][]Candidate{},
			siteErr: map[string]error{},
			pages:   map[string][]Candidate{},
			links:   map[string][]string{},
		},
		queue: &mockQueue{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.cache = sitecache.New(f.store, sitecache.WithClock(clock))
	f.coord = NewCoordinator(f.store, f.ext, f.cache, f.queue,
		WithSources(sources),
		WithClock(clock),
	)
	return f
}

func TestScrapeAllSourcesInsertsAndQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, siteA, siteB)
	f.ext.site[siteA.URL] = []Candidate{
		{Title: "Colt Python", URL: "/lot/1", CurrentBid: ptr(1500.0)},
		{Title: "S&W Model 29", URL: "https://alpha.example.com/lot/2#top"},
		{Title: "No link"},
		{Title: "Off site", URL: "https://elsewhere.example.net/lot/3"},
	}
	f.ext.site[siteB.URL] = []Candidate{
		{Title: "Estate Shotgun", URL: "https://bravo.example.org/lot/9", State: "AR"},
	}

	saved, err := f.coord.ScrapeAllSources(ctx)
	if err != nil {
		t.Fatalf("ScrapeAllSources failed: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("saved %d listings, want 3", len(saved))
	}
	if len(f.queue.ids) != 3 {
		t.Errorf("queued %d ids, want 3", len(f.queue.ids))
	}

	got, err := f.store.GetListingByURL(ctx, "https://alpha.example.com/lot/1")
	if err != nil {
		t.Fatalf("GetListingByURL failed: %v", err)
	}
	if got.EnrichmentStatus != model.EnrichmentPending || got.Status != model.StatusActive {
		t.Errorf("new listing status = %s/%s, want active/pending", got.Status, got.EnrichmentStatus)
	}
	if *got.City != "Dallas" || *got.State != "TX" {
		t.Errorf("geography = %s, %s; want source defaults", *got.City, *got.State)
	}

	estate, _ := f.store.GetListingByURL(ctx, "https://bravo.example.org/lot/9")
	if !estate.IsEstateSale {
		t.Error("estate source listing should be flagged as estate sale")
	}
	if *estate.State != "AR" {
		t.Errorf("State = %s, want candidate value AR", *estate.State)
	}

	run := f.coord.LastRunStats()
	if run.RunID == "" {
		t.Error("RunID should be set")
	}
	if len(run.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(run.Sources))
	}
	a := run.Sources[0]
	if a.Discovered != 4 || a.Saved != 2 || a.Inserted != 2 || a.Skipped != 2 {
		t.Errorf("alpha stats = %+v, want 4 discovered, 2 saved, 2 skipped", a)
	}
	if a.Coverage() != 50 {
		t.Errorf("alpha coverage = %v, want 50", a.Coverage())
	}

	p := f.coord.Progress()
	if p.IsActive || p.CompletedSources != 2 || p.TotalSources != 2 {
		t.Errorf("progress = %+v, want inactive with 2/2 sources", p)
	}
	if p.RunID != run.RunID {
		t.Errorf("progress RunID = %q, want %q", p.RunID, run.RunID)
	}
}

func TestScrapeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, siteA)
	f.ext.site[siteA.URL] = []Candidate{{Title: "Colt Python", URL: "https://alpha.example.com/lot/1", CurrentBid: ptr(1500.0)}}

	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before, _ := f.store.GetListingByURL(ctx, "https://alpha.example.com/lot/1")

	// Simulate enrichment between runs.
	enrichedAt := f.now
	if err := f.store.ApplyEnrichment(ctx, before.ID, model.EnrichmentUpdate{
		Manufacturer:      ptr("Colt"),
		Model:             ptr("Python"),
		CurrentBid:        before.CurrentBid,
		EnrichmentVersion: "v1",
	}, enrichedAt); err != nil {
		t.Fatalf("ApplyEnrichment failed: %v", err)
	}

	// The second run must not use the cache path, so expire it.
	if err := f.cache.Invalidate(ctx, siteA.URL); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	f.now = f.now.Add(time.Hour)
	f.ext.site[siteA.URL] = []Candidate{{Title: "Colt Python (re-listed)", URL: "https://alpha.example.com/lot/1", CurrentBid: ptr(1800.0)}}

	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	n, _ := f.store.CountListings(ctx, store.ListingFilter{})
	if n != 1 {
		t.Fatalf("CountListings = %d, want 1", n)
	}
	after, _ := f.store.GetListingByURL(ctx, "https://alpha.example.com/lot/1")
	if *after.CurrentBid != 1800 {
		t.Errorf("CurrentBid = %v, want 1800", *after.CurrentBid)
	}
	if !after.UpdatedAt.Equal(f.now) {
		t.Errorf("UpdatedAt = %v, want %v", after.UpdatedAt, f.now)
	}
	if after.Title != before.Title {
		t.Errorf("Title = %q, want unchanged %q", after.Title, before.Title)
	}
	if *after.Manufacturer != "Colt" || after.EnrichmentStatus != model.EnrichmentCompleted {
		t.Error("enrichment-derived fields must survive a re-scrape")
	}
	if len(f.queue.ids) != 1 {
		t.Errorf("queued %d ids, want 1", len(f.queue.ids))
	}
}

func TestScrapeSourceFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, siteA, siteB)
	f.ext.siteErr[siteA.URL] = &api.APIError{StatusCode: 502, Message: "bad gateway"}
	f.ext.site[siteB.URL] = []Candidate{{Title: "Lot", URL: "https://bravo.example.org/lot/1"}}

	saved, err := f.coord.ScrapeAllSources(context.Background())
	if err != nil {
		t.Fatalf("ScrapeAllSources failed: %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("saved %d listings, want 1", len(saved))
	}

	run := f.coord.LastRunStats()
	if run.Sources[0].FailedScrapes != 1 || run.Sources[0].Error == "" {
		t.Errorf("alpha stats = %+v, want one failed scrape", run.Sources[0])
	}
	if run.Sources[1].Saved != 1 {
		t.Errorf("bravo stats = %+v, want one save", run.Sources[1])
	}
}

func TestScrapeRecordsFailedSaves(t *testing.T) {
	f := newFixture(t, siteA)
	f.ext.site[siteA.URL] = []Candidate{
		{Title: "Good", URL: "https://alpha.example.com/lot/1"},
		{Title: "Bad", URL: "https://alpha.example.com/lot/2"},
	}
	f.store.FailInserts(func(l model.AuctionListing) error {
		if l.Title == "Bad" {
			return errors.New("constraint violation")
		}
		return nil
	})

	if _, err := f.coord.ScrapeAllSources(context.Background()); err != nil {
		t.Fatalf("ScrapeAllSources failed: %v", err)
	}

	s := f.coord.LastRunStats().Sources[0]
	if s.Saved != 1 || s.FailedSaves != 1 {
		t.Errorf("stats = %+v, want 1 saved and 1 failed save", s)
	}
	if len(s.MissingURLs) != 1 || s.MissingURLs[0] != "https://alpha.example.com/lot/2" {
		t.Errorf("MissingURLs = %v", s.MissingURLs)
	}
}

func TestScrapeUsesSiteCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, siteA)
	f.ext.site[siteA.URL] = []Candidate{{Title: "Lot 1", URL: "https://alpha.example.com/lot/1"}}

	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if !f.cache.IsValid(ctx, siteA.URL) {
		t.Fatal("full extraction should populate the site cache")
	}

	// Nothing new on the site: the source is skipped.
	f.ext.links[siteA.URL] = []string{"https://alpha.example.com/lot/1/"}
	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(f.ext.siteCalls) != 1 {
		t.Errorf("site extractions = %d, want 1", len(f.ext.siteCalls))
	}
	if len(f.ext.pageCalls) != 0 {
		t.Errorf("page extractions = %d, want 0", len(f.ext.pageCalls))
	}
	if s := f.coord.LastRunStats().Sources[0]; !s.CacheHit || s.Discovered != 0 {
		t.Errorf("stats = %+v, want cache hit with nothing discovered", s)
	}

	// One new page: only it is extracted.
	f.ext.links[siteA.URL] = []string{"https://alpha.example.com/lot/1", "https://alpha.example.com/lot/2", "https://other.example.net/x"}
	f.ext.pages["https://alpha.example.com/lot/2"] = []Candidate{{Title: "Lot 2", URL: "https://alpha.example.com/lot/2"}}
	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	if len(f.ext.pageCalls) != 1 || len(f.ext.pageCalls[0]) != 1 || f.ext.pageCalls[0][0] != "https://alpha.example.com/lot/2" {
		t.Errorf("page extractions = %v, want only lot/2", f.ext.pageCalls)
	}
	if _, err := f.store.GetListingByURL(ctx, "https://alpha.example.com/lot/2"); err != nil {
		t.Errorf("new page listing not saved: %v", err)
	}

	// After the TTL the whole site is extracted again.
	f.now = f.now.Add(sitecache.DefaultTTL)
	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("fourth run failed: %v", err)
	}
	if len(f.ext.siteCalls) != 2 {
		t.Errorf("site extractions = %d, want 2", len(f.ext.siteCalls))
	}
}

func TestScrapeMaxExtractURLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, siteA)
	f.coord = NewCoordinator(f.store, f.ext, f.cache, f.queue,
		WithSources([]Source{siteA}),
		WithMaxExtractURLs(2),
		WithClock(func() time.Time { return f.now }),
	)
	if err := f.cache.SaveSiteMap(ctx, siteA.URL, siteA.Name, nil, 0); err != nil {
		t.Fatalf("SaveSiteMap failed: %v", err)
	}
	f.ext.links[siteA.URL] = []string{
		"https://alpha.example.com/a",
		"https://alpha.example.com/b",
		"https://alpha.example.com/c",
	}

	if _, err := f.coord.ScrapeAllSources(ctx); err != nil {
		t.Fatalf("ScrapeAllSources failed: %v", err)
	}
	if len(f.ext.pageCalls) != 1 || len(f.ext.pageCalls[0]) != 2 {
		t.Errorf("page extractions = %v, want one call with 2 urls", f.ext.pageCalls)
	}
}

func TestScrapeOverlapGuard(t *testing.T) {
	f := newFixture(t, siteA)
	block := make(chan struct{})
	entered := make(chan struct{})
	f.coord.extractor = blockingExtractor{entered: entered, release: block}

	ctx := context.Background()
	if !f.coord.StartScrape(ctx) {
		t.Fatal("StartScrape should start a run")
	}
	<-entered

	if f.coord.StartScrape(ctx) {
		t.Error("second StartScrape should return false")
	}
	if _, err := f.coord.ScrapeAllSources(ctx); !errors.Is(err, ErrScrapeInProgress) {
		t.Errorf("ScrapeAllSources error = %v, want ErrScrapeInProgress", err)
	}
	if p := f.coord.Progress(); !p.IsActive || p.CurrentSource != siteA.Name {
		t.Errorf("progress = %+v, want active on %s", p, siteA.Name)
	}

	close(block)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := f.coord.Wait(waitCtx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if f.coord.IsRunning() {
		t.Error("IsRunning should be false after the run")
	}
}

type blockingExtractor struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingExtractor) Discover(context.Context, string) ([]string, error) { return nil, nil }

func (b blockingExtractor) ExtractSite(context.Context, Source) ([]Candidate, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func (b blockingExtractor) ExtractPages(context.Context, []string) ([]Candidate, error) {
	return nil, nil
}

func TestProgressVersionIncreases(t *testing.T) {
	f := newFixture(t, siteA, siteB)
	v0 := f.coord.Progress().Version

	if _, err := f.coord.ScrapeAllSources(context.Background()); err != nil {
		t.Fatalf("ScrapeAllSources failed: %v", err)
	}
	if v1 := f.coord.Progress().Version; v1 <= v0 {
		t.Errorf("Version = %d, want > %d", v1, v0)
	}
}

func TestScrapeByURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lot := "https://alpha.example.com/lot/77"
	f.ext.pages[lot] = []Candidate{{Title: "Browning Auto-5", CurrentBid: ptr(900.0)}}

	l, err := f.coord.ScrapeByURL(ctx, "https://Alpha.example.com/lot/77/")
	if err != nil {
		t.Fatalf("ScrapeByURL failed: %v", err)
	}
	if l.URL != lot || l.SourceWebsite != ManualSourceName {
		t.Errorf("listing = %s from %s, want %s from %s", l.URL, l.SourceWebsite, lot, ManualSourceName)
	}
	if len(f.queue.ids) != 1 || f.queue.ids[0] != l.ID {
		t.Errorf("queued = %v, want [%d]", f.queue.ids, l.ID)
	}

	// Same URL again: no new row.
	again, err := f.coord.ScrapeByURL(ctx, lot)
	if err != nil {
		t.Fatalf("second ScrapeByURL failed: %v", err)
	}
	if again.ID != l.ID {
		t.Errorf("ID = %d, want %d", again.ID, l.ID)
	}
	if len(f.queue.ids) != 1 {
		t.Errorf("queued %d ids, want 1", len(f.queue.ids))
	}

	if _, err := f.coord.ScrapeByURL(ctx, "https://alpha.example.com/empty"); !errors.Is(err, ErrNoAuctionData) {
		t.Errorf("error = %v, want ErrNoAuctionData", err)
	}
}

func TestFirecrawlExtractor(t *testing.T) {
	var gotReq api.ExtractRequest
	client := mockSiteClient{
		extract: func(_ context.Context, req api.ExtractRequest) (json.RawMessage, error) {
			gotReq = req
			return json.RawMessage(`{"firearms": [{"title": "Ruger", "auctionUrl": "https://x.example.com/1"}]}`), nil
		},
	}
	e := NewFirecrawlExtractor(client, false)

	cands, err := e.ExtractSite(context.Background(), Source{URL: "https://x.example.com/"})
	if err != nil {
		t.Fatalf("ExtractSite failed: %v", err)
	}
	if len(gotReq.URLs) != 1 || gotReq.URLs[0] != "https://x.example.com/*" {
		t.Errorf("URLs = %v, want wildcard site url", gotReq.URLs)
	}
	if len(gotReq.Schema) == 0 || gotReq.Prompt == "" {
		t.Error("extract request should carry prompt and schema")
	}
	if len(cands) != 1 || cands[0].URL != "https://x.example.com/1" {
		t.Errorf("candidates = %+v", cands)
	}
}

type mockSiteClient struct {
	extract func(context.Context, api.ExtractRequest) (json.RawMessage, error)
}

func (m mockSiteClient) Extract(ctx context.Context, req api.ExtractRequest) (json.RawMessage, error) {
	return m.extract(ctx, req)
}

func (m mockSiteClient) Map(context.Context, api.MapRequest) ([]string, error) {
	return nil, nil
}
