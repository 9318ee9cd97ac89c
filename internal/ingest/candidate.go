package ingest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// extractionPrompt asks the provider for firearm lots on a page or site.
const extractionPrompt = `Extract all firearms auction listings from this auction house website.

For each firearm lot, extract the title and full description, manufacturer and model,
caliber or gauge, category (Handgun, Rifle, Shotgun, Machine Gun, Antique or Military),
condition grade, starting and current bid, estimate range, lot number, auction date,
auction house name, city and state, and the direct URL of the lot page.

Only include firearms, not accessories or other items. Return an empty list when
there are none.`

// extractionSchema is the JSON schema sent with extraction requests.
var extractionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "firearms": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "auctionUrl": {"type": "string"},
          "manufacturer": {"type": "string"},
          "model": {"type": "string"},
          "caliber": {"type": "string"},
          "category": {"type": "string", "enum": ["Handgun", "Rifle", "Shotgun", "Machine Gun", "Antique", "Military"]},
          "condition": {"type": "string"},
          "lotNumber": {"type": "string"},
          "startingBid": {"type": "number"},
          "currentBid": {"type": "number"},
          "estimateLow": {"type": "number"},
          "estimateHigh": {"type": "number"},
          "auctionDate": {"type": "string"},
          "auctionHouse": {"type": "string"},
          "city": {"type": "string"},
          "state": {"type": "string"}
        },
        "required": ["title"]
      }
    }
  },
  "required": ["firearms"]
}`)

// Candidate is one best-effort lot record from the extraction provider.
// Every field may be missing.
type Candidate struct {
	Title        string
	Description  string
	URL          string
	Manufacturer string
	Model        string
	Caliber      string
	Category     string
	Condition    string
	LotNumber    string
	AuctionHouse string
	City         string
	State        string
	StartingBid  *float64
	CurrentBid   *float64
	EstimateLow  *float64
	EstimateHigh *float64
	AuctionDate  *time.Time
}

// Listing builds the row inserted for a newly seen candidate. url is the
// canonical URL; geography falls back to the source's.
func (c Candidate) Listing(src Source, url string) model.AuctionListing {
	l := model.AuctionListing{
		URL:              url,
		Title:            c.Title,
		Description:      optional(c.Description),
		SourceWebsite:    src.Name,
		Manufacturer:     optional(c.Manufacturer),
		Model:            optional(c.Model),
		Caliber:          optional(c.Caliber),
		Category:         optional(c.Category),
		Condition:        optional(c.Condition),
		LotNumber:        optional(c.LotNumber),
		AuctionHouse:     optional(firstNonEmpty(c.AuctionHouse, src.Name)),
		StartingBid:      c.StartingBid,
		CurrentBid:       c.CurrentBid,
		EstimateLow:      c.EstimateLow,
		EstimateHigh:     c.EstimateHigh,
		AuctionDate:      c.AuctionDate,
		City:             optional(firstNonEmpty(c.City, src.City)),
		State:            optional(firstNonEmpty(c.State, src.State)),
		IsEstateSale:     src.IsEstate(),
		Status:           model.StatusActive,
		EnrichmentStatus: model.EnrichmentPending,
	}
	return l
}

// field aliases accepted for each candidate attribute.
var (
	urlKeys          = []string{"auctionUrl", "auction_url", "url", "link", "lotUrl"}
	descriptionKeys  = []string{"description", "details"}
	lotNumberKeys    = []string{"lotNumber", "lot_number", "lot"}
	auctionHouseKeys = []string{"auctionHouse", "auction_house"}
	startingBidKeys  = []string{"startingBid", "starting_bid"}
	currentBidKeys   = []string{"currentBid", "current_bid", "price"}
	estimateLowKeys  = []string{"estimateLow", "estimate_low"}
	estimateHighKeys = []string{"estimateHigh", "estimate_high"}
	auctionDateKeys  = []string{"auctionDate", "auction_date", "endDate", "end_date"}
)

// ParseCandidates reads extraction output. It accepts {"firearms": [...]},
// {"auctions": [...]} or a bare array, and skips elements that are not
// objects. Malformed input yields no candidates.
func ParseCandidates(raw json.RawMessage) []Candidate {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
	} else {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil
		}
		for _, key := range []string{"firearms", "auctions", "listings", "lots"} {
			if b, ok := doc[key]; ok {
				_ = json.Unmarshal(b, &items)
				break
			}
		}
	}

	out := make([]Candidate, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		out = append(out, candidateFrom(fields))
	}
	return out
}

func candidateFrom(f map[string]json.RawMessage) Candidate {
	c := Candidate{
		Title:        str(f, "title", "name"),
		Description:  str(f, descriptionKeys...),
		URL:          str(f, urlKeys...),
		Manufacturer: str(f, "manufacturer", "make"),
		Model:        str(f, "model"),
		Caliber:      str(f, "caliber", "gauge"),
		Category:     str(f, "category"),
		Condition:    str(f, "condition"),
		LotNumber:    str(f, lotNumberKeys...),
		AuctionHouse: str(f, auctionHouseKeys...),
		City:         str(f, "city"),
		State:        str(f, "state"),
		StartingBid:  num(f, startingBidKeys...),
		CurrentBid:   num(f, currentBidKeys...),
		EstimateLow:  num(f, estimateLowKeys...),
		EstimateHigh: num(f, estimateHighKeys...),
	}
	if s := str(f, auctionDateKeys...); s != "" {
		c.AuctionDate = parseDate(s)
	}
	return c
}

// str returns the first non-blank string (or number rendered as text) under
// any of keys.
func str(f map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		b, ok := f[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// num returns the first positive amount under any of keys. Strings such as
// "$1,250" are accepted.
func num(f map[string]json.RawMessage, keys ...string) *float64 {
	for _, k := range keys {
		b, ok := f[k]
		if !ok {
			continue
		}
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			var s string
			if err := json.Unmarshal(b, &s); err != nil {
				continue
			}
			s = strings.NewReplacer("$", "", ",", "", "USD", "", " ", "").Replace(s)
			if v, err = strconv.ParseFloat(s, 64); err != nil {
				continue
			}
		}
		if v > 0 {
			return &v
		}
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"Monday, January 2, 2006",
	"2 January 2006",
}

// parseDate accepts the date formats auction sites commonly print. Dates
// without a zone are read as UTC.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
