// Package api provides the HTTP clients for the external capabilities the
// pipeline depends on.
//
// One retrying JSON Client is constructed per provider:
//   - Scrape/extract provider (Firecrawl v1 compatible): /scrape, /extract, /map
//   - AI completion provider (OpenAI compatible): /chat/completions
//
// Both are treated as unreliable; callers decide how failures degrade.
package api
