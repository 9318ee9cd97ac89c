package enrich

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// systemPrompt describes the response document the model must return.
const systemPrompt = `You are a firearms appraiser reading auction listings.
Extract structured attributes from the listing and answer with a single JSON object:

{
  "identification": {
    "manufacturer": string|null,
    "model": string|null,
    "caliber": string|null,
    "serialNumber": string|null,
    "yearManufactured": number|null,
    "category": "Handgun"|"Rifle"|"Shotgun"|"Machine Gun"|"Antique"|"Military"|null,
    "subCategory": string|null
  },
  "condition": {
    "grade": "Excellent"|"Very Good"|"Good"|"Fair"|"Poor"|null,
    "boreCondition": string|null,
    "finishPercentage": number|null,
    "originalParts": boolean|null,
    "mechanicalFunction": string|null
  },
  "value": {
    "provenance": string|null,
    "rarity": "Common"|"Scarce"|"Rare"|"Extremely Rare"|null,
    "desirability": number|null,
    "investmentGrade": boolean,
    "keyFeatures": [string]
  },
  "legal": {
    "transferType": "Standard"|"C&R"|"NFA"|"Antique"|null,
    "nfaItem": boolean,
    "restrictions": [string]
  },
  "auction": {
    "auctionHouse": string|null,
    "lotNumber": string|null,
    "estimateRange": {"low": number|null, "high": number|null},
    "startingBid": number|null,
    "currentBid": number|null
  },
  "extras": {
    "includedAccessories": [string],
    "originalBox": boolean|null,
    "paperwork": boolean|null,
    "specialFeatures": [string]
  },
  "estateSale": {
    "isEstateSale": boolean,
    "collectionSize": "Small"|"Medium"|"Large"|"Collection"|null,
    "collectionName": string|null
  },
  "soldStatus": "sold"|"active"|"unknown"
}

Rules:
- Use null when the listing does not support a value. Do not guess serial numbers.
- desirability is 1-10 and finishPercentage is 0-100.
- nfaItem is true only for items regulated under the National Firearms Act.
- soldStatus is "sold" only when the listing states the lot has sold, "active" when bidding is open, otherwise "unknown".`

// inputDocument is the normalized listing sent to the model.
type inputDocument struct {
	Title         string   `json:"title"`
	Description   *string  `json:"description"`
	URL           string   `json:"url"`
	SourceWebsite string   `json:"sourceWebsite"`
	CurrentBid    *float64 `json:"currentBid"`
	StartingBid   *float64 `json:"startingBid"`
	EstimateLow   *float64 `json:"estimateLow"`
	EstimateHigh  *float64 `json:"estimateHigh"`
	LotNumber     *string  `json:"lotNumber"`
	AuctionDate   *string  `json:"auctionDate"`
}

func newInputDocument(l model.AuctionListing) inputDocument {
	doc := inputDocument{
		Title:         l.Title,
		Description:   l.Description,
		URL:           l.URL,
		SourceWebsite: l.SourceWebsite,
		CurrentBid:    l.CurrentBid,
		StartingBid:   l.StartingBid,
		EstimateLow:   l.EstimateLow,
		EstimateHigh:  l.EstimateHigh,
		LotNumber:     l.LotNumber,
	}
	if l.AuctionDate != nil {
		s := l.AuctionDate.UTC().Format(time.RFC3339)
		doc.AuctionDate = &s
	}
	return doc
}

// userPrompt renders the listing as indented JSON under a short instruction.
func userPrompt(l model.AuctionListing) (string, error) {
	b, err := json.MarshalIndent(newInputDocument(l), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal listing: %w", err)
	}
	return "Analyze this firearms auction listing:\n\n" + string(b), nil
}
