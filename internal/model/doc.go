// Package model defines shared data types used across the auction intelligence service.
//
// Types mirror the database schema in internal/database/migrations.
//
// Conventions:
//   - Prices: float64 US dollars
//   - Timestamps: time.Time, stored as timestamptz
//   - Nullable columns: pointer fields (nil = NULL)
//   - IDs: int64 store-assigned identifiers; listing identity is its canonical URL
package model
