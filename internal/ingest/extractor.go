package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/rickgao/auction-intel/internal/api"
	"github.com/rickgao/auction-intel/internal/browser"
)

// Extractor wraps the external scrape/extract capability.
type Extractor interface {
	// Discover lists the page URLs currently reachable from a site.
	Discover(ctx context.Context, siteURL string) ([]string, error)
	// ExtractSite extracts candidates from a whole site.
	ExtractSite(ctx context.Context, src Source) ([]Candidate, error)
	// ExtractPages extracts candidates from specific pages.
	ExtractPages(ctx context.Context, urls []string) ([]Candidate, error)
}

// -----------------------------------------------------------------------------
// Hosted provider
// -----------------------------------------------------------------------------

// SiteClient is the provider API used by FirecrawlExtractor.
type SiteClient interface {
	Extract(ctx context.Context, req api.ExtractRequest) (json.RawMessage, error)
	Map(ctx context.Context, req api.MapRequest) ([]string, error)
}

// FirecrawlExtractor extracts through a hosted crawl/extract provider.
type FirecrawlExtractor struct {
	client        SiteClient
	allowExternal bool
	mapLimit      int
}

// NewFirecrawlExtractor creates an extractor on top of an API client.
func NewFirecrawlExtractor(client SiteClient, allowExternal bool) *FirecrawlExtractor {
	return &FirecrawlExtractor{client: client, allowExternal: allowExternal, mapLimit: 500}
}

func (e *FirecrawlExtractor) Discover(ctx context.Context, siteURL string) ([]string, error) {
	links, err := e.client.Map(ctx, api.MapRequest{
		URL:    siteURL,
		Search: "firearms auction",
		Limit:  e.mapLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", siteURL, err)
	}
	return links, nil
}

func (e *FirecrawlExtractor) ExtractSite(ctx context.Context, src Source) ([]Candidate, error) {
	return e.extract(ctx, []string{strings.TrimRight(src.URL, "/") + "/*"})
}

func (e *FirecrawlExtractor) ExtractPages(ctx context.Context, urls []string) ([]Candidate, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	return e.extract(ctx, urls)
}

func (e *FirecrawlExtractor) extract(ctx context.Context, urls []string) ([]Candidate, error) {
	data, err := e.client.Extract(ctx, api.ExtractRequest{
		URLs:               urls,
		Prompt:             extractionPrompt,
		Schema:             extractionSchema,
		AllowExternalLinks: e.allowExternal,
	})
	if err != nil {
		return nil, fmt.Errorf("extract %d url(s): %w", len(urls), err)
	}
	return ParseCandidates(data), nil
}

// -----------------------------------------------------------------------------
// Local browser
// -----------------------------------------------------------------------------

// PageFetcher renders a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*browser.Page, error)
}

// Completer turns a prompt into a JSON object.
type Completer interface {
	CompleteJSON(ctx context.Context, p api.JSONPrompt) (json.RawMessage, error)
}

// maxPageText caps the page text sent to the model.
const maxPageText = 60000

// BrowserExtractor renders pages with a local headless browser and asks the
// AI provider to extract candidates from the visible text.
type BrowserExtractor struct {
	fetcher PageFetcher
	ai      Completer
	model   string
	logger  *slog.Logger
}

// NewBrowserExtractor creates a browser-backed extractor.
func NewBrowserExtractor(fetcher PageFetcher, ai Completer, model string, logger *slog.Logger) *BrowserExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserExtractor{fetcher: fetcher, ai: ai, model: model, logger: logger}
}

func (e *BrowserExtractor) Discover(ctx context.Context, siteURL string) ([]string, error) {
	page, err := e.fetcher.Fetch(ctx, siteURL)
	if err != nil {
		return nil, err
	}
	links := make([]string, 0, len(page.Links))
	for _, link := range page.Links {
		if SameSite(siteURL, link) {
			links = append(links, link)
		}
	}
	return links, nil
}

func (e *BrowserExtractor) ExtractSite(ctx context.Context, src Source) ([]Candidate, error) {
	return e.ExtractPages(ctx, []string{src.URL})
}

// ExtractPages fetches pages one at a time. A page that fails is logged and
// skipped; the call fails only when every page failed.
func (e *BrowserExtractor) ExtractPages(ctx context.Context, urls []string) ([]Candidate, error) {
	var (
		out  []Candidate
		errs []error
	)
	for _, u := range urls {
		cands, err := e.extractPage(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			e.logger.Warn("page extraction failed", "url", u, "err", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, cands...)
	}
	if len(errs) > 0 && len(errs) == len(urls) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// truncateText cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (e *BrowserExtractor) extractPage(ctx context.Context, pageURL string) ([]Candidate, error) {
	page, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	text := truncateText(page.Text, maxPageText)

	raw, err := e.ai.CompleteJSON(ctx, api.JSONPrompt{
		Model: e.model,
		System: extractionPrompt + "\n\nAnswer with a JSON object matching this schema:\n" +
			string(extractionSchema),
		User:        fmt.Sprintf("Page URL: %s\nPage title: %s\n\n%s", page.URL, page.Title, text),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", pageURL, err)
	}

	// A single lot without a link is the page itself.
	cands := ParseCandidates(raw)
	if len(cands) == 1 && cands[0].URL == "" {
		cands[0].URL = page.URL
	}
	return cands, nil
}
