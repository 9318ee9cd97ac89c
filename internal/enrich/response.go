package enrich

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// Version is stamped on every listing this package enriches.
const Version = "v1"

// aiResponse is the intermediate shape of the model's answer. Every field is
// optional and tolerant of the wrong JSON type; nothing here reaches the
// store without going through toUpdate.
type aiResponse struct {
	Identification struct {
		Manufacturer     looseString `json:"manufacturer"`
		Model            looseString `json:"model"`
		Caliber          looseString `json:"caliber"`
		SerialNumber     looseString `json:"serialNumber"`
		YearManufactured looseInt    `json:"yearManufactured"`
		Category         looseString `json:"category"`
		SubCategory      looseString `json:"subCategory"`
	} `json:"identification"`

	Condition struct {
		Grade              looseString `json:"grade"`
		BoreCondition      looseString `json:"boreCondition"`
		FinishPercentage   looseInt    `json:"finishPercentage"`
		OriginalParts      looseBool   `json:"originalParts"`
		MechanicalFunction looseString `json:"mechanicalFunction"`
	} `json:"condition"`

	Value struct {
		Provenance      looseString `json:"provenance"`
		Rarity          looseString `json:"rarity"`
		Desirability    looseInt    `json:"desirability"`
		InvestmentGrade looseBool   `json:"investmentGrade"`
		KeyFeatures     stringList  `json:"keyFeatures"`
	} `json:"value"`

	Legal struct {
		TransferType looseString `json:"transferType"`
		NFAItem      looseBool   `json:"nfaItem"`
		Restrictions stringList  `json:"restrictions"`
	} `json:"legal"`

	Auction struct {
		AuctionHouse  looseString `json:"auctionHouse"`
		LotNumber     looseString `json:"lotNumber"`
		EstimateRange struct {
			Low  looseFloat `json:"low"`
			High looseFloat `json:"high"`
		} `json:"estimateRange"`
		StartingBid looseFloat `json:"startingBid"`
		CurrentBid  looseFloat `json:"currentBid"`
	} `json:"auction"`

	Extras struct {
		IncludedAccessories stringList `json:"includedAccessories"`
		OriginalBox         looseBool  `json:"originalBox"`
		Paperwork           looseBool  `json:"paperwork"`
		SpecialFeatures     stringList `json:"specialFeatures"`
	} `json:"extras"`

	EstateSale struct {
		IsEstateSale   looseBool   `json:"isEstateSale"`
		CollectionSize looseString `json:"collectionSize"`
		CollectionName looseString `json:"collectionName"`
	} `json:"estateSale"`

	SoldStatus looseString `json:"soldStatus"`
}

// parseResponse decodes a model answer. Sections of the wrong type are
// dropped rather than failing the whole document.
func parseResponse(raw json.RawMessage) (aiResponse, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return aiResponse{}, err
	}

	var r aiResponse
	targets := map[string]any{
		"identification": &r.Identification,
		"condition":      &r.Condition,
		"value":          &r.Value,
		"legal":          &r.Legal,
		"auction":        &r.Auction,
		"extras":         &r.Extras,
		"estateSale":     &r.EstateSale,
		"soldStatus":     &r.SoldStatus,
	}
	for key, target := range targets {
		b, ok := sections[key]
		if !ok {
			continue
		}
		// A malformed section leaves that section zeroed.
		_ = json.Unmarshal(b, target)
	}
	return r, nil
}

// toUpdate maps a parsed answer onto the listing. Auction economics fall back
// to the listing's scraped values when the model has nothing better.
func (r aiResponse) toUpdate(l model.AuctionListing, raw json.RawMessage, now time.Time) model.EnrichmentUpdate {
	u := model.EnrichmentUpdate{
		Manufacturer:       r.Identification.Manufacturer.ptr(),
		Model:              r.Identification.Model.ptr(),
		Caliber:            r.Identification.Caliber.ptr(),
		SerialNumber:       r.Identification.SerialNumber.ptr(),
		YearManufactured:   r.Identification.YearManufactured.within(1700, now.Year()+1),
		Category:           r.Identification.Category.ptr(),
		SubCategory:        r.Identification.SubCategory.ptr(),
		Condition:          r.Condition.Grade.ptr(),
		BoreCondition:      r.Condition.BoreCondition.ptr(),
		FinishPercentage:   r.Condition.FinishPercentage.within(0, 100),
		OriginalParts:      r.Condition.OriginalParts.ptr(),
		MechanicalFunction: r.Condition.MechanicalFunction.ptr(),
		Provenance:         r.Value.Provenance.ptr(),
		Rarity:             r.Value.Rarity.ptr(),
		Desirability:       r.Value.Desirability.within(1, 10),
		InvestmentGrade:    r.Value.InvestmentGrade.value(),
		TransferType:       r.Legal.TransferType.ptr(),
		NFAItem:            r.Legal.NFAItem.value(),
		OriginalBox:        r.Extras.OriginalBox.ptr(),
		Paperwork:          r.Extras.Paperwork.ptr(),
		IsEstateSale:       r.EstateSale.IsEstateSale.value() || l.IsEstateSale,
		EstateSize:         r.EstateSale.CollectionSize.ptr(),
		CollectionName:     r.EstateSale.CollectionName.ptr(),

		AuctionHouse: r.Auction.AuctionHouse.or(l.AuctionHouse),
		LotNumber:    r.Auction.LotNumber.or(l.LotNumber),
		EstimateLow:  r.Auction.EstimateRange.Low.or(l.EstimateLow),
		EstimateHigh: r.Auction.EstimateRange.High.or(l.EstimateHigh),
		StartingBid:  r.Auction.StartingBid.or(l.StartingBid),
		CurrentBid:   r.Auction.CurrentBid.or(l.CurrentBid),
		AuctionDate:  l.AuctionDate,

		EnrichmentVersion: Version,
		AIExtractedData:   raw,
	}

	if len(r.Extras.IncludedAccessories) > 0 {
		u.IncludedAccessories = []string(r.Extras.IncludedAccessories)
	}

	// Only an unambiguous signal changes the lifecycle status.
	switch strings.ToLower(r.SoldStatus.String()) {
	case string(model.StatusSold):
		s := model.StatusSold
		u.Status = &s
	case string(model.StatusActive):
		s := model.StatusActive
		u.Status = &s
	}

	return u
}

// -----------------------------------------------------------------------------
// Lenient scalar types
// -----------------------------------------------------------------------------

// looseString accepts a string or number. Blank and null are absent.
type looseString struct {
	v     string
	valid bool
}

func (s *looseString) UnmarshalJSON(b []byte) error {
	*s = looseString{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		str = strings.TrimSpace(str)
		if str != "" && !strings.EqualFold(str, "null") {
			*s = looseString{v: str, valid: true}
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*s = looseString{v: n.String(), valid: true}
	}
	return nil
}

func (s looseString) String() string { return s.v }

func (s looseString) ptr() *string {
	if !s.valid {
		return nil
	}
	v := s.v
	return &v
}

func (s looseString) or(fallback *string) *string {
	if p := s.ptr(); p != nil {
		return p
	}
	return fallback
}

// looseFloat accepts a number or a price string like "$1,250.00".
// Zero is treated as absent.
type looseFloat struct {
	v     float64
	valid bool
}

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	*f = looseFloat{}
	if v, ok := parseNumber(b); ok && v != 0 {
		*f = looseFloat{v: v, valid: true}
	}
	return nil
}

func (f looseFloat) or(fallback *float64) *float64 {
	if !f.valid {
		return fallback
	}
	v := f.v
	return &v
}

// looseInt accepts a number or numeric string like "95%" and rounds.
type looseInt struct {
	v     int
	valid bool
}

func (i *looseInt) UnmarshalJSON(b []byte) error {
	*i = looseInt{}
	if v, ok := parseNumber(b); ok {
		*i = looseInt{v: int(math.Round(v)), valid: true}
	}
	return nil
}

// within returns the value when it lies in [lo, hi], otherwise nil.
func (i looseInt) within(lo, hi int) *int {
	if !i.valid || i.v < lo || i.v > hi {
		return nil
	}
	v := i.v
	return &v
}

// looseBool accepts true/false and the strings "true", "yes", "false", "no".
type looseBool struct {
	v     bool
	valid bool
}

func (x *looseBool) UnmarshalJSON(b []byte) error {
	*x = looseBool{}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*x = looseBool{v: v, valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y":
		*x = looseBool{v: true, valid: true}
	case "false", "no", "n":
		*x = looseBool{v: false, valid: true}
	}
	return nil
}

func (x looseBool) value() bool { return x.valid && x.v }

func (x looseBool) ptr() *bool {
	if !x.valid {
		return nil
	}
	v := x.v
	return &v
}

// stringList accepts an array of strings or a single string. Non-string and
// blank elements are skipped.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	*l = nil
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		var single looseString
		_ = single.UnmarshalJSON(b)
		if single.valid {
			*l = stringList{single.v}
		}
		return nil
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// parseNumber reads a JSON number or a numeric string, ignoring currency
// symbols, thousands separators and a trailing percent sign.
func parseNumber(b []byte) (float64, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return 0, false
	}
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
