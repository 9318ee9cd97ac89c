package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultListenAddr           = ":8080"
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 30 * time.Second
	DefaultGeneralRateLimit     = 300
	DefaultScrapingRateLimit    = 10
	DefaultRateLimitWindow      = time.Minute
	DefaultDBDriver             = DriverPostgres
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultScrapeProvider       = ProviderFirecrawl
	DefaultScrapeBaseURL        = "https://api.firecrawl.dev/v1"
	DefaultScrapeTimeout        = 60 * time.Second
	DefaultScrapeRetries        = 3
	DefaultScrapeWait           = 2 * time.Second
	DefaultMaxExtractURLs       = 20
	DefaultCacheTTL             = 24 * time.Hour
	DefaultAIBaseURL            = "https://api.openai.com/v1"
	DefaultAIModel              = "gpt-4o"
	DefaultAITemperature        = 0.3
	DefaultAITimeout            = 60 * time.Second
	DefaultAIRetries            = 3
	DefaultMaxConcurrent        = 3
	DefaultEnrichRetries        = 2
	DefaultBatchDelay           = time.Second
	DefaultBatchConcurrency     = 5
	DefaultStaleAfter           = 30 * time.Minute
	DefaultOpportunityThreshold = 20
	DefaultMinComparables       = 3
	DefaultComparableLimit      = 10
	DefaultAlertLookback        = 24 * time.Hour
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Scrape providers.
const (
	ProviderFirecrawl = "firecrawl"
	ProviderBrowser   = "browser"
)

// ApplyDefaults fills unset optional fields.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.RateLimit.General == 0 {
		c.Server.RateLimit.General = DefaultGeneralRateLimit
	}
	if c.Server.RateLimit.Scraping == 0 {
		c.Server.RateLimit.Scraping = DefaultScrapingRateLimit
	}
	if c.Server.RateLimit.Window == 0 {
		c.Server.RateLimit.Window = DefaultRateLimitWindow
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDBDriver
	}
	applyDBDefaults(&c.Database.Postgres)

	// Scrape defaults
	if c.Scrape.Provider == "" {
		c.Scrape.Provider = DefaultScrapeProvider
	}
	if c.Scrape.BaseURL == "" {
		c.Scrape.BaseURL = DefaultScrapeBaseURL
	}
	if c.Scrape.Timeout == 0 {
		c.Scrape.Timeout = DefaultScrapeTimeout
	}
	if c.Scrape.MaxRetries == 0 {
		c.Scrape.MaxRetries = DefaultScrapeRetries
	}
	if c.Scrape.Wait == 0 {
		c.Scrape.Wait = DefaultScrapeWait
	}
	if c.Scrape.MaxExtractURLs == 0 {
		c.Scrape.MaxExtractURLs = DefaultMaxExtractURLs
	}
	if c.Scrape.CacheTTL == 0 {
		c.Scrape.CacheTTL = DefaultCacheTTL
	}

	// AI defaults
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = DefaultAIBaseURL
	}
	if c.AI.Model == "" {
		c.AI.Model = DefaultAIModel
	}
	if c.AI.Temperature == nil {
		t := DefaultAITemperature
		c.AI.Temperature = &t
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = DefaultAITimeout
	}
	if c.AI.MaxRetries == 0 {
		c.AI.MaxRetries = DefaultAIRetries
	}

	// Enrichment defaults
	if c.Enrichment.MaxConcurrent == 0 {
		c.Enrichment.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Enrichment.MaxRetries == nil {
		n := DefaultEnrichRetries
		c.Enrichment.MaxRetries = &n
	}
	if c.Enrichment.BatchDelay == 0 {
		c.Enrichment.BatchDelay = DefaultBatchDelay
	}
	if c.Enrichment.BatchConcurrency == 0 {
		c.Enrichment.BatchConcurrency = DefaultBatchConcurrency
	}
	if c.Enrichment.StaleAfter == 0 {
		c.Enrichment.StaleAfter = DefaultStaleAfter
	}

	// Analytics defaults
	if c.Analytics.OpportunityThreshold == 0 {
		c.Analytics.OpportunityThreshold = DefaultOpportunityThreshold
	}
	if c.Analytics.MinComparables == 0 {
		c.Analytics.MinComparables = DefaultMinComparables
	}
	if c.Analytics.ComparableLimit == 0 {
		c.Analytics.ComparableLimit = DefaultComparableLimit
	}

	if c.Alerts.Lookback == 0 {
		c.Alerts.Lookback = DefaultAlertLookback
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
