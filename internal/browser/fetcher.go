// Package browser fetches fully rendered pages with a headless Chrome.
// It backs the browser scrape provider for sites that need JavaScript.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Page is a rendered page.
type Page struct {
	URL   string
	Title string
	HTML  string
	Text  string
	Links []string
}

// Fetcher renders pages in a fresh browser tab per request.
type Fetcher struct {
	wait      time.Duration
	timeout   time.Duration
	execPath  string
	userAgent string
	logger    *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithWait sets how long to wait after navigation for client-side rendering.
func WithWait(d time.Duration) Option {
	return func(f *Fetcher) { f.wait = d }
}

// WithTimeout bounds a single fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithExecPath overrides Chrome binary discovery.
func WithExecPath(path string) Option {
	return func(f *Fetcher) { f.execPath = path }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		wait:      2 * time.Second,
		timeout:   60 * time.Second,
		userAgent: defaultUserAgent,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.execPath == "" {
		f.execPath = findChromeBinary()
	}
	return f
}

func (f *Fetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)
	if f.execPath != "" {
		opts = append(opts, chromedp.ExecPath(f.execPath))
	}
	return opts
}

// Fetch navigates to pageURL and returns the rendered HTML, visible text and
// absolute link targets.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.timeout)
	defer cancelTimeout()

	start := time.Now()
	page := &Page{URL: pageURL}
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(f.wait),
		chromedp.Title(&page.Title),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &page.Text),
		chromedp.Evaluate(`Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`, &page.Links),
	)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}

	page.Links = httpLinks(page.Links)
	f.logger.Debug("rendered page",
		"url", pageURL,
		"links", len(page.Links),
		"text_bytes", len(page.Text),
		"duration", time.Since(start),
	)
	return page, nil
}

// httpLinks keeps http(s) links, drops fragments and duplicates, preserving order.
func httpLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		if i := strings.IndexByte(l, '#'); i >= 0 {
			l = l[:i]
		}
		if !strings.HasPrefix(l, "http://") && !strings.HasPrefix(l, "https://") {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// findChromeBinary locates a Chrome/Chromium binary; empty lets chromedp search.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
