package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}

	if c.Server.RateLimit.General < 1 {
		return errors.New("server.rate_limit.general must be >= 1")
	}
	if c.Server.RateLimit.Scraping < 1 {
		return errors.New("server.rate_limit.scraping must be >= 1")
	}

	switch c.Scrape.Provider {
	case ProviderFirecrawl, ProviderBrowser:
	default:
		return fmt.Errorf("scrape.provider must be %q or %q, got %q", ProviderFirecrawl, ProviderBrowser, c.Scrape.Provider)
	}
	if c.Scrape.MaxExtractURLs < 1 {
		return errors.New("scrape.max_extract_urls must be >= 1")
	}
	for i, src := range c.Scrape.Sources {
		if src.Name == "" {
			return fmt.Errorf("scrape.sources[%d].name is required", i)
		}
		if src.URL == "" {
			return fmt.Errorf("scrape.sources[%d].url is required", i)
		}
		if src.Category != "" && src.Category != "estate" && src.Category != "competitor" {
			return fmt.Errorf("scrape.sources[%d].category must be estate or competitor, got %q", i, src.Category)
		}
	}

	if c.AI.Temperature != nil && (*c.AI.Temperature < 0 || *c.AI.Temperature > 1) {
		return fmt.Errorf("ai.temperature must be between 0 and 1, got %g", *c.AI.Temperature)
	}

	if c.Enrichment.MaxConcurrent < 1 {
		return errors.New("enrichment.max_concurrent must be >= 1")
	}
	if c.Enrichment.MaxRetries != nil && *c.Enrichment.MaxRetries < 0 {
		return errors.New("enrichment.max_retries must be >= 0")
	}
	if c.Enrichment.BatchConcurrency < 1 {
		return errors.New("enrichment.batch_concurrency must be >= 1")
	}

	if c.Analytics.MinComparables < 1 {
		return errors.New("analytics.min_comparables must be >= 1")
	}
	if c.Analytics.ComparableLimit < 1 {
		return errors.New("analytics.comparable_limit must be >= 1")
	}

	if c.Scheduler.RefreshInterval < 0 || c.Scheduler.AlertInterval < 0 {
		return errors.New("scheduler intervals must be >= 0")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}
