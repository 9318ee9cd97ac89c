package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ListingStatus is the auction lifecycle state.
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusSold      ListingStatus = "sold"
	StatusCancelled ListingStatus = "cancelled"
)

// EnrichmentStatus tracks a listing through the enrichment pipeline.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Priority orders enrichment jobs. Lower values run first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses "high", "normal" or "low". Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// Rarity ordinals, least to most rare.
var rarityOrder = []string{"Common", "Scarce", "Rare", "Extremely Rare"}

// RarityRank returns the ordinal of a rarity label, or -1 when unknown.
func RarityRank(rarity string) int {
	for i, r := range rarityOrder {
		if r == rarity {
			return i
		}
	}
	return -1
}

// NormalizeKey lower-cases and trims a manufacturer or model name so it can
// be used as a comparability key.
func NormalizeKey(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}
