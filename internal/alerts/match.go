package alerts

import (
	"fmt"
	"strings"

	"github.com/rickgao/auction-intel/internal/model"
)

// Matches evaluates the populated criteria in order and stops at the first
// one the listing fails. It returns the reason for each criterion that
// passed; a listing matches only when at least one criterion was evaluated.
//
// A maxPrice is not evaluated for a listing without a current bid, and a
// listing without a rarity counts as Common.
func Matches(l model.AuctionListing, c model.AlertCriteria) ([]string, bool) {
	var reasons []string

	if c.Manufacturer != "" {
		if !containsFold(l.Manufacturer, c.Manufacturer) {
			return nil, false
		}
		reasons = append(reasons, "Manufacturer matches: "+*l.Manufacturer)
	}
	if c.Model != "" {
		if !containsFold(l.Model, c.Model) {
			return nil, false
		}
		reasons = append(reasons, "Model matches: "+*l.Model)
	}
	if c.Caliber != "" {
		if !containsFold(l.Caliber, c.Caliber) {
			return nil, false
		}
		reasons = append(reasons, "Caliber matches: "+*l.Caliber)
	}
	if c.Category != "" {
		if l.Category == nil || *l.Category != c.Category {
			return nil, false
		}
		reasons = append(reasons, "Category matches: "+c.Category)
	}
	if c.Condition != "" {
		if l.Condition == nil || *l.Condition != c.Condition {
			return nil, false
		}
		reasons = append(reasons, "Condition matches: "+c.Condition)
	}
	if c.MaxPrice != nil && *c.MaxPrice > 0 && l.CurrentBid != nil && *l.CurrentBid > 0 {
		if *l.CurrentBid > *c.MaxPrice {
			return nil, false
		}
		reasons = append(reasons, fmt.Sprintf("Price within budget: $%.2f <= $%.2f", *l.CurrentBid, *c.MaxPrice))
	}
	if c.MinRarity != "" {
		rarity := "Common"
		if l.Rarity != nil && *l.Rarity != "" {
			rarity = *l.Rarity
		}
		if model.RarityRank(rarity) < model.RarityRank(c.MinRarity) {
			return nil, false
		}
		reasons = append(reasons, "Rarity meets criteria: "+rarity)
	}
	if c.NFAOnly {
		if !l.NFAItem {
			return nil, false
		}
		reasons = append(reasons, "NFA item as requested")
	}
	if c.EstateSalesOnly {
		if !l.IsEstateSale {
			return nil, false
		}
		reasons = append(reasons, "Estate sale as requested")
	}

	return reasons, len(reasons) > 0
}

func containsFold(p *string, sub string) bool {
	return p != nil && strings.Contains(strings.ToLower(*p), strings.ToLower(sub))
}
