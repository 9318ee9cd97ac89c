package ingest

import (
	"math"
	"slices"
	"time"
)

// SourceStats records what one source produced in a run.
type SourceStats struct {
	RunID         string        `json:"runId"`
	Source        string        `json:"sourceName"`
	Discovered    int           `json:"discoveredUrls"`
	Processed     int           `json:"processedUrls"`
	Saved         int           `json:"successfulSaves"`
	Inserted      int           `json:"inserted"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"` // No usable URL, or off-site
	FailedScrapes int           `json:"failedScrapes"`
	FailedSaves   int           `json:"failedSaves"`
	CacheHit      bool          `json:"cacheHit"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
	MissingURLs   []string      `json:"missingUrls"`
	Error         string        `json:"error,omitempty"`
}

// Coverage is saved / discovered as a percentage rounded to one decimal. A
// source that discovered nothing has full coverage.
func (s SourceStats) Coverage() float64 {
	if s.Discovered == 0 {
		return 100
	}
	return math.Round(float64(s.Saved)/float64(s.Discovered)*1000) / 10
}

// CoverageMetric summarizes one source for diagnostics.
type CoverageMetric struct {
	Source             string  `json:"source"`
	Discovered         int     `json:"discovered"`
	Saved              int     `json:"saved"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// RunStats describes one scrape run.
type RunStats struct {
	RunID      string        `json:"runId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Sources    []SourceStats `json:"sources"`
}

// Totals sums discovered and saved counts over every source.
func (r RunStats) Totals() (discovered, saved int) {
	for _, s := range r.Sources {
		discovered += s.Discovered
		saved += s.Saved
	}
	return discovered, saved
}

// Coverage returns per-source coverage metrics.
func (r RunStats) Coverage() []CoverageMetric {
	out := make([]CoverageMetric, 0, len(r.Sources))
	for _, s := range r.Sources {
		out = append(out, CoverageMetric{
			Source:             s.Source,
			Discovered:         s.Discovered,
			Saved:              s.Saved,
			CoveragePercentage: s.Coverage(),
		})
	}
	return out
}

func (r RunStats) clone() RunStats {
	c := r
	c.Sources = make([]SourceStats, len(r.Sources))
	for i, s := range r.Sources {
		s.MissingURLs = slices.Clone(s.MissingURLs)
		c.Sources[i] = s
	}
	return c
}
