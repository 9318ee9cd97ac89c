package config

import "time"

// ServiceConfig is the root configuration shared by the server, scrape and
// enrich binaries.
type ServiceConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Scrape     ScrapeConfig     `yaml:"scrape"`
	AI         AIConfig         `yaml:"ai"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// InstanceConfig identifies this deployment.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr   string          `yaml:"listen_addr"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client request budgets per window.
type RateLimitConfig struct {
	General  int           `yaml:"general"`
	Scraping int           `yaml:"scraping"`
	Window   time.Duration `yaml:"window"`
}

// DatabaseConfig selects and configures the record store.
type DatabaseConfig struct {
	Driver   string   `yaml:"driver"` // postgres or memory
	Postgres DBConfig `yaml:"postgres"`
	Migrate  *bool    `yaml:"migrate"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ScrapeConfig holds the scrape/extract provider and source catalogue.
type ScrapeConfig struct {
	Provider       string         `yaml:"provider"` // firecrawl or browser
	BaseURL        string         `yaml:"base_url"`
	APIKey         string         `yaml:"api_key"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxRetries     int            `yaml:"max_retries"`
	Wait           time.Duration  `yaml:"wait"`
	MaxExtractURLs int            `yaml:"max_extract_urls"`
	AllowExternal  bool           `yaml:"allow_external"`
	CacheTTL       time.Duration  `yaml:"cache_ttl"`
	Sources        []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one auction website.
type SourceConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	City     string `yaml:"city"`
	State    string `yaml:"state"`
	Category string `yaml:"category"` // estate or competitor
}

// AIConfig holds the chat-completion provider settings.
type AIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// EnrichmentConfig holds enrichment queue settings.
type EnrichmentConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	MaxRetries       *int          `yaml:"max_retries"`
	BatchDelay       time.Duration `yaml:"batch_delay"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	AutoStart        *bool         `yaml:"auto_start"`
}

// AnalyticsConfig holds price analytics settings.
type AnalyticsConfig struct {
	OpportunityThreshold float64 `yaml:"opportunity_threshold"`
	MinComparables       int     `yaml:"min_comparables"`
	ComparableLimit      int     `yaml:"comparable_limit"`
}

// AlertsConfig holds alert engine settings.
type AlertsConfig struct {
	Lookback time.Duration `yaml:"lookback"`
}

// SchedulerConfig holds periodic job intervals. Zero disables a job.
type SchedulerConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	AlertInterval   time.Duration `yaml:"alert_interval"`
}

// MigrateEnabled reports whether migrations run at startup.
func (d DatabaseConfig) MigrateEnabled() bool {
	return d.Migrate == nil || *d.Migrate
}

// AutoStartEnabled reports whether the queue drains as soon as items arrive.
func (e EnrichmentConfig) AutoStartEnabled() bool {
	return e.AutoStart == nil || *e.AutoStart
}
