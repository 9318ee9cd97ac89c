package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Extract job states reported by the provider.
const (
	extractCompleted = "completed"
	extractFailed    = "failed"
	extractCancelled = "cancelled"
)

// ScrapeRequest asks the provider to render one page.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"` // milliseconds
	OnlyMainContent bool     `json:"onlyMainContent,omitempty"`
}

// Page is rendered page content.
type Page struct {
	Markdown string       `json:"markdown"`
	HTML     string       `json:"html"`
	Links    []string     `json:"links"`
	Metadata PageMetadata `json:"metadata"`
}

// PageMetadata is provider-reported page metadata.
type PageMetadata struct {
	Title      string `json:"title"`
	SourceURL  string `json:"sourceURL"`
	StatusCode int    `json:"statusCode"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Data    Page   `json:"data"`
	Error   string `json:"error"`
}

// ExtractRequest asks the provider for structured data from one or more
// pages. A trailing /* on a URL extracts from the whole site.
type ExtractRequest struct {
	URLs               []string        `json:"urls"`
	Prompt             string          `json:"prompt,omitempty"`
	Schema             json.RawMessage `json:"schema,omitempty"`
	AllowExternalLinks bool            `json:"allowExternalLinks"`
	EnableWebSearch    bool            `json:"enableWebSearch"`
}

type extractResponse struct {
	Success bool            `json:"success"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// MapRequest asks the provider for the URLs reachable from a site.
type MapRequest struct {
	URL               string `json:"url"`
	Search            string `json:"search,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

type mapResponse struct {
	Success bool              `json:"success"`
	Links   []json.RawMessage `json:"links"`
	Error   string            `json:"error"`
}

// Scrape renders a single page.
func (c *Client) Scrape(ctx context.Context, pageURL string, wait time.Duration) (*Page, error) {
	req := ScrapeRequest{
		URL:             pageURL,
		Formats:         []string{"markdown", "links"},
		WaitFor:         int(wait / time.Millisecond),
		OnlyMainContent: true,
	}

	var resp scrapeResponse
	if err := c.post(ctx, "/scrape", req, &resp); err != nil {
		return nil, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("scrape %s: %s", pageURL, failureMessage(resp.Error))
	}
	return &resp.Data, nil
}

// Extract returns the structured document produced for the request. When
// the provider answers with a job ID the job is polled until it finishes.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	var resp extractResponse
	if err := c.post(ctx, "/extract", req, &resp); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("extract: %s", failureMessage(resp.Error))
	}
	if hasData(resp.Data) {
		return resp.Data, nil
	}
	if resp.ID == "" {
		return nil, nil
	}
	return c.pollExtract(ctx, resp.ID)
}

func (c *Client) pollExtract(ctx context.Context, id string) (json.RawMessage, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	path := "/extract/" + url.PathEscape(id)
	for {
		var resp extractResponse
		if err := c.get(ctx, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("poll extract %s: %w", id, err)
		}

		switch resp.Status {
		case extractCompleted:
			return resp.Data, nil
		case extractFailed, extractCancelled:
			return nil, fmt.Errorf("extract %s %s: %s", id, resp.Status, failureMessage(resp.Error))
		}

		c.logger.Debug("extract job pending", "job_id", id, "status", resp.Status)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Map lists URLs discovered on a site.
func (c *Client) Map(ctx context.Context, req MapRequest) ([]string, error) {
	var resp mapResponse
	if err := c.post(ctx, "/map", req, &resp); err != nil {
		return nil, fmt.Errorf("map %s: %w", req.URL, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("map %s: %s", req.URL, failureMessage(resp.Error))
	}

	links := make([]string, 0, len(resp.Links))
	for _, raw := range resp.Links {
		if link := decodeLink(raw); link != "" {
			links = append(links, link)
		}
	}
	return links, nil
}

// decodeLink accepts either a bare URL string or an object with a url field.
func decodeLink(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.URL
	}
	return ""
}

func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func failureMessage(msg string) string {
	if msg == "" {
		return "provider reported failure"
	}
	return msg
}
