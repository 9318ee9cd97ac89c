package ingest

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		titles []string
	}{
		{"firearms key", `{"firearms": [{"title": "A"}, {"title": "B"}]}`, []string{"A", "B"}},
		{"auctions key", `{"auctions": [{"title": "A"}]}`, []string{"A"}},
		{"bare array", `[{"title": "A"}, "junk", 3, {"title": "B"}]`, []string{"A", "B"}},
		{"empty object", `{}`, nil},
		{"list is not an array", `{"firearms": "none"}`, nil},
		{"not json", `<html>`, nil},
		{"empty", ``, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCandidates(json.RawMessage(tt.raw))
			if len(got) != len(tt.titles) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.titles))
			}
			for i, c := range got {
				if c.Title != tt.titles[i] {
					t.Errorf("[%d].Title = %q, want %q", i, c.Title, tt.titles[i])
				}
			}
		})
	}
}

func TestParseCandidateFields(t *testing.T) {
	raw := `{"auctions": [{
		"title": " Winchester Model 70 ",
		"url": "https://example.com/lot/70",
		"manufacturer": "Winchester",
		"lot_number": 1234,
		"current_bid": "$1,250.50",
		"starting_bid": 0,
		"estimate_low": 1000,
		"estimateHigh": "2,000",
		"auction_date": "2026-04-18",
		"state": "TX"
	}]}`

	got := ParseCandidates(json.RawMessage(raw))
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	c := got[0]

	if c.Title != "Winchester Model 70" {
		t.Errorf("Title = %q", c.Title)
	}
	if c.URL != "https://example.com/lot/70" {
		t.Errorf("URL = %q", c.URL)
	}
	if c.LotNumber != "1234" {
		t.Errorf("LotNumber = %q, want 1234", c.LotNumber)
	}
	if c.CurrentBid == nil || *c.CurrentBid != 1250.50 {
		t.Errorf("CurrentBid = %v, want 1250.50", c.CurrentBid)
	}
	if c.StartingBid != nil {
		t.Errorf("StartingBid = %v, want nil for zero", *c.StartingBid)
	}
	if c.EstimateHigh == nil || *c.EstimateHigh != 2000 {
		t.Errorf("EstimateHigh = %v, want 2000", c.EstimateHigh)
	}
	want := time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC)
	if c.AuctionDate == nil || !c.AuctionDate.Equal(want) {
		t.Errorf("AuctionDate = %v, want %v", c.AuctionDate, want)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-04-18T15:00:00Z", time.Date(2026, 4, 18, 15, 0, 0, 0, time.UTC), true},
		{"04/18/2026", time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC), true},
		{"April 18, 2026", time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC), true},
		{"Apr 18, 2026", time.Date(2026, 4, 18, 0, 0, 0, 0, time.UTC), true},
		{"next Saturday", time.Time{}, false},
	}

	for _, tt := range tests {
		got := parseDate(tt.in)
		if (got != nil) != tt.ok {
			t.Errorf("parseDate(%q) = %v, want ok=%v", tt.in, got, tt.ok)
			continue
		}
		if got != nil && !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, *got, tt.want)
		}
	}
}

func TestCandidateListing(t *testing.T) {
	src := Source{Name: "Example Estate", URL: "https://example.com", City: "Waco", State: "TX", Category: CategoryEstate}
	c := Candidate{Title: "Colt", State: "OK"}

	l := c.Listing(src, "https://example.com/lot/1")

	if l.SourceWebsite != "Example Estate" {
		t.Errorf("SourceWebsite = %q", l.SourceWebsite)
	}
	if l.AuctionHouse == nil || *l.AuctionHouse != "Example Estate" {
		t.Errorf("AuctionHouse = %v, want source name", l.AuctionHouse)
	}
	if l.City == nil || *l.City != "Waco" {
		t.Errorf("City = %v, want source city", l.City)
	}
	if l.State == nil || *l.State != "OK" {
		t.Errorf("State = %v, want candidate state", l.State)
	}
	if !l.IsEstateSale {
		t.Error("IsEstateSale should follow the source category")
	}
	if l.Description != nil {
		t.Errorf("Description = %q, want nil", *l.Description)
	}
}
