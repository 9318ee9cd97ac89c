package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rickgao/auction-intel/internal/api"
	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

// ErrAuctionNotFound is returned when the listing to enrich does not exist.
var ErrAuctionNotFound = fmt.Errorf("auction not found: %w", store.ErrNotFound)

// Defaults for the completion call.
const (
	DefaultModel            = "gpt-4o"
	DefaultTemperature      = 0.3
	DefaultBatchConcurrency = 5
)

// Completer returns a JSON object for a system+user prompt.
type Completer interface {
	CompleteJSON(ctx context.Context, p api.JSONPrompt) (json.RawMessage, error)
}

// CompleterFunc is a function adapter for Completer.
type CompleterFunc func(ctx context.Context, p api.JSONPrompt) (json.RawMessage, error)

func (f CompleterFunc) CompleteJSON(ctx context.Context, p api.JSONPrompt) (json.RawMessage, error) {
	return f(ctx, p)
}

// Store is the subset of the record store enrichment needs.
type Store interface {
	GetListing(ctx context.Context, id int64) (model.AuctionListing, error)
	SetEnrichmentStatus(ctx context.Context, id int64, status model.EnrichmentStatus, at time.Time) error
	ApplyEnrichment(ctx context.Context, id int64, update model.EnrichmentUpdate, at time.Time) error
}

// Result is the outcome of enriching one listing.
type Result struct {
	Listing model.AuctionListing `json:"auction"`

	// Signals the model reports that are not persisted as columns.
	KeyFeatures     []string `json:"keyFeatures"`
	Restrictions    []string `json:"restrictions"`
	SpecialFeatures []string `json:"specialFeatures"`
	SoldStatus      string   `json:"soldStatus,omitempty"`
}

// BatchError records one failed ID in a batch run.
type BatchError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// BatchResult summarizes EnrichBatch.
type BatchResult struct {
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors"`
}

// Service drives listings through the AI enrichment step.
type Service struct {
	store       Store
	ai          Completer
	model       string
	temperature float64
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithModel sets the completion model.
func WithModel(m string) Option {
	return func(s *Service) {
		if m != "" {
			s.model = m
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an enrichment Service.
func New(st Store, ai Completer, opts ...Option) *Service {
	s := &Service{
		store:       st,
		ai:          ai,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enrich loads one listing, asks the model for structured attributes and
// writes them back in a single update. Any failure after the listing is
// claimed marks it failed before the error is returned.
func (s *Service) Enrich(ctx context.Context, id int64) (*Result, error) {
	listing, err := s.store.GetListing(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("auction %d: %w", id, ErrAuctionNotFound)
		}
		return nil, fmt.Errorf("load auction %d: %w", id, err)
	}

	if err := s.store.SetEnrichmentStatus(ctx, id, model.EnrichmentProcessing, s.now()); err != nil {
		return nil, fmt.Errorf("claim auction %d: %w", id, err)
	}

	result, err := s.enrich(ctx, listing)
	if err != nil {
		s.logger.Error("enrichment failed", "auction_id", id, "err", err)
		// The caller may have been cancelled; the failed mark must still land.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if markErr := s.store.SetEnrichmentStatus(markCtx, id, model.EnrichmentFailed, s.now()); markErr != nil {
			s.logger.Warn("failed to mark enrichment failed", "auction_id", id, "err", markErr)
		}
		return nil, err
	}

	s.logger.Debug("auction enriched",
		"auction_id", id,
		"manufacturer", deref(result.Listing.Manufacturer),
		"model", deref(result.Listing.Model),
	)
	return result, nil
}

func (s *Service) enrich(ctx context.Context, listing model.AuctionListing) (*Result, error) {
	user, err := userPrompt(listing)
	if err != nil {
		return nil, err
	}

	raw, err := s.ai.CompleteJSON(ctx, api.JSONPrompt{
		Model:       s.model,
		System:      systemPrompt,
		User:        user,
		Temperature: s.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich auction %d: %w", listing.ID, err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse enrichment for auction %d: %w", listing.ID, err)
	}

	now := s.now()
	update := resp.toUpdate(listing, raw, now)
	if err := s.store.ApplyEnrichment(ctx, listing.ID, update, now); err != nil {
		return nil, fmt.Errorf("save enrichment for auction %d: %w", listing.ID, err)
	}

	update.Apply(&listing, now)
	return &Result{
		Listing:         listing,
		KeyFeatures:     resp.Value.KeyFeatures,
		Restrictions:    resp.Legal.Restrictions,
		SpecialFeatures: resp.Extras.SpecialFeatures,
		SoldStatus:      resp.SoldStatus.String(),
	}, nil
}

// Process enriches one listing and discards the result.
func (s *Service) Process(ctx context.Context, id int64) error {
	_, err := s.Enrich(ctx, id)
	return err
}

// EnrichBatch enriches ids in groups of concurrency, waiting for each group
// to finish before starting the next. Failures are counted, not retried.
func (s *Service) EnrichBatch(ctx context.Context, ids []int64, concurrency int) (BatchResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result BatchResult
		sem    = semaphore.NewWeighted(int64(concurrency))
	)

	abort := func(err error) (BatchResult, error) {
		wg.Wait()
		return result, err
	}

	for start := 0; start < len(ids); start += concurrency {
		end := min(start+concurrency, len(ids))

		for _, id := range ids[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				return abort(err)
			}
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				defer sem.Release(1)
				err := s.Process(ctx, id)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, BatchError{ID: id, Error: err.Error()})
					return
				}
				result.Successful++
			}(id)
		}

		// Wait for the group to drain.
		if err := sem.Acquire(ctx, int64(concurrency)); err != nil {
			return abort(err)
		}
		sem.Release(int64(concurrency))
	}

	s.logger.Info("enrichment batch complete",
		"total", len(ids),
		"successful", result.Successful,
		"failed", result.Failed,
	)
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
