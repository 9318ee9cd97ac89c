// Package database provides the PostgreSQL connection pool and schema
// migrations for the auction record store.
//
// Migrations are embedded SQL files applied with goose at startup:
//   - firearms_auctions: scraped listings and their enrichment state
//   - price_history: append-only comparable sales
//   - competitor_metrics: append-only auction house snapshots
//   - scraping_cache: per-source discovered URL sets
//   - user_alerts: saved alert criteria
package database
