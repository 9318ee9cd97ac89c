// Package queue implements the in-memory enrichment job queue.
//
// Jobs are ordered by priority (FIFO within a tier) and drained in batches of
// at most MaxConcurrent parallel enrichments. A failed job is re-appended to
// the tail until it has been retried MaxRetries times. Queue membership is not
// durable: the store's enrichment status is the source of truth and Reconcile
// rebuilds the queue from it after a restart.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/auction-intel/internal/model"
)

// ErrAlreadyProcessing is returned when a drain is requested while one runs.
var ErrAlreadyProcessing = errors.New("queue is already being processed")

// Processor enriches a single listing.
type Processor interface {
	Process(ctx context.Context, auctionID int64) error
}

// ProcessorFunc is a function adapter for Processor.
type ProcessorFunc func(ctx context.Context, auctionID int64) error

func (f ProcessorFunc) Process(ctx context.Context, auctionID int64) error {
	return f(ctx, auctionID)
}

// Config holds queue configuration.
type Config struct {
	MaxConcurrent int           // Batch size (default: 3)
	MaxRetries    int           // Retries after the first attempt (default: 2)
	BatchDelay    time.Duration // Pause between batches (default: 1s)
	StaleAfter    time.Duration // Age at which processing rows are reclaimed (default: 30m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		MaxRetries:    2,
		BatchDelay:    time.Second,
		StaleAfter:    30 * time.Minute,
	}
}

// Item is one queued job.
type Item struct {
	AuctionID int64          `json:"auctionId"`
	Priority  model.Priority `json:"priority"`
	AddedAt   time.Time      `json:"addedAt"`
	Retries   int            `json:"retries"`
}

// ItemError records a job that exhausted its retries.
type ItemError struct {
	ID      int64  `json:"id"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// Stats describes one drain of the queue.
type Stats struct {
	Total      int         `json:"total"`     // Jobs queued when the run started
	Processed  int         `json:"processed"` // Jobs that reached success or final failure
	Attempts   int         `json:"attempts"`  // Processor calls, retries included
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	StartTime  time.Time   `json:"startTime"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
	Errors     []ItemError `json:"errors"`
}

func (s *Stats) clone() *Stats {
	if s == nil {
		return nil
	}
	c := *s
	c.Errors = slices.Clone(s.Errors)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// merge folds a later drain into s.
func (s *Stats) merge(o Stats) {
	s.Total += o.Total
	s.Processed += o.Processed
	s.Attempts += o.Attempts
	s.Successful += o.Successful
	s.Failed += o.Failed
	s.EndTime = o.EndTime
	s.Errors = append(s.Errors, o.Errors...)
}

// Status is a point-in-time view of the queue.
type Status struct {
	QueueLength  int    `json:"queueLength"`
	IsProcessing bool   `json:"isProcessing"`
	Stats        *Stats `json:"stats"`
}

// Store is the subset of the record store the queue reconciles against.
type Store interface {
	ListIDs(ctx context.Context, statuses ...model.EnrichmentStatus) ([]int64, error)
	ResetEnrichment(ctx context.Context, at time.Time) (int64, error)
	ResetStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// Queue is a priority, retry-bounded, bounded-concurrency job queue.
type Queue struct {
	cfg    Config
	proc   Processor
	store  Store
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	items    []Item
	queued   map[int64]struct{} // IDs in items
	inFlight map[int64]struct{} // IDs in the running batch
	stats    *Stats             // Current or most recent run

	processing atomic.Bool
	wg         sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithSleep replaces the pause between batches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		if sleep != nil {
			q.sleep = sleep
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a Queue. Zero MaxConcurrent and StaleAfter take their defaults;
// MaxRetries is used as given, so zero disables retries.
func New(cfg Config, proc Processor, st Store, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}

	q := &Queue{
		cfg:      cfg,
		proc:     proc,
		store:    st,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
		queued:   make(map[int64]struct{}),
		inFlight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add queues an auction. It is a no-op returning false when the ID is already
// queued or being processed.
func (q *Queue) Add(auctionID int64, priority model.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(auctionID, priority)
}

func (q *Queue) addLocked(auctionID int64, priority model.Priority) bool {
	if _, ok := q.queued[auctionID]; ok {
		return false
	}
	if _, ok := q.inFlight[auctionID]; ok {
		return false
	}

	q.items = append(q.items, Item{
		AuctionID: auctionID,
		Priority:  priority,
		AddedAt:   q.now(),
	})
	q.queued[auctionID] = struct{}{}
	slices.SortStableFunc(q.items, func(a, b Item) int {
		return int(a.Priority) - int(b.Priority)
	})

	q.logger.Debug("auction queued", "auction_id", auctionID, "priority", priority.String())
	return true
}

// AddBatch queues several auctions at one priority and returns how many were
// newly added.
func (q *Queue) AddBatch(auctionIDs []int64, priority model.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, id := range auctionIDs {
		if q.addLocked(id, priority) {
			added++
		}
	}
	if added > 0 {
		q.logger.Info("auctions queued", "added", added, "requested", len(auctionIDs), "priority", priority.String())
	}
	return added
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status returns the queue length, the processing flag and a copy of the
// current or most recent run statistics.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		QueueLength:  len(q.items),
		IsProcessing: q.processing.Load(),
		Stats:        q.stats.clone(),
	}
}

// Snapshot returns a copy of the queued jobs in processing order.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Clear drops every queued job. Jobs already in flight finish normally.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	clear(q.queued)
	q.logger.Info("enrichment queue cleared", "dropped", n)
}

// ProcessQueue drains the queue and returns the run statistics. It returns
// ErrAlreadyProcessing when another drain is running, and ctx.Err() when the
// context is cancelled between batches.
func (q *Queue) ProcessQueue(ctx context.Context) (Stats, error) {
	if !q.processing.CompareAndSwap(false, true) {
		return Stats{}, ErrAlreadyProcessing
	}
	return q.run(ctx)
}

// StartProcessing drains the queue in the background. It returns false when
// a drain is already running. Errors are logged, not returned.
func (q *Queue) StartProcessing(ctx context.Context) bool {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Debug("enrichment queue already processing")
		return false
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.run(ctx); err != nil {
			q.logger.Warn("enrichment queue run stopped", "err", err)
		}
	}()
	return true
}

// run drains the queue while holding the processing flag and releases it on
// return. Jobs added after the last batch was taken see the flag still set
// and cannot start their own drain, so after releasing it run checks the
// queue again and keeps going if it can retake the flag.
func (q *Queue) run(ctx context.Context) (Stats, error) {
	var total Stats
	for first := true; ; first = false {
		stats, err := q.drain(ctx)
		q.processing.Store(false)
		if first {
			total = stats
		} else {
			total.merge(stats)
		}
		if err != nil || q.Len() == 0 {
			return total, err
		}
		if !q.processing.CompareAndSwap(false, true) {
			return total, nil
		}
	}
}

// Stop waits for a background drain to finish. Cancel the context passed to
// StartProcessing to make it stop early.
func (q *Queue) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type outcome struct {
	item Item
	err  error
}

func (q *Queue) drain(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	stats := &Stats{
		Total:     len(q.items),
		StartTime: q.now(),
		Errors:    []ItemError{},
	}
	q.stats = stats
	q.mu.Unlock()

	if stats.Total > 0 {
		q.logger.Info("enrichment queue processing started",
			"total", stats.Total,
			"max_concurrent", q.cfg.MaxConcurrent,
			"max_retries", q.cfg.MaxRetries,
		)
	}

	var runErr error
	for {
		batch := q.takeBatch()
		if len(batch) == 0 {
			break
		}

		outcomes := make([]outcome, len(batch))
		var wg sync.WaitGroup
		for i, item := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes[i] = outcome{item: item, err: q.proc.Process(ctx, item.AuctionID)}
			}()
		}
		wg.Wait()

		remaining := q.settle(stats, outcomes)

		q.logger.Info("enrichment batch complete",
			"processed", stats.Processed,
			"total", stats.Total,
			"successful", stats.Successful,
			"failed", stats.Failed,
			"remaining", remaining,
		)

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if remaining > 0 {
			if err := q.sleep(ctx, q.cfg.BatchDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	q.mu.Lock()
	end := q.now()
	stats.EndTime = &end
	result := *stats.clone()
	q.mu.Unlock()

	if result.Attempts > 0 {
		q.logger.Info("enrichment queue processing complete",
			"total", result.Total,
			"successful", result.Successful,
			"failed", result.Failed,
			"duration", end.Sub(result.StartTime),
		)
	}
	return result, runErr
}

// takeBatch removes up to MaxConcurrent jobs from the head of the queue and
// marks them in flight.
func (q *Queue) takeBatch() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(q.cfg.MaxConcurrent, len(q.items))
	batch := slices.Clone(q.items[:n])
	q.items = slices.Delete(q.items, 0, n)
	for _, item := range batch {
		delete(q.queued, item.AuctionID)
		q.inFlight[item.AuctionID] = struct{}{}
	}
	return batch
}

// settle applies a finished batch to the stats and re-appends jobs that
// still have retries left. It returns the queue length afterwards.
func (q *Queue) settle(stats *Stats, outcomes []outcome) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, o := range outcomes {
		delete(q.inFlight, o.item.AuctionID)
		stats.Attempts++

		if o.err == nil {
			stats.Successful++
			stats.Processed++
			continue
		}

		if o.item.Retries < q.cfg.MaxRetries {
			item := o.item
			item.Retries++
			q.logger.Warn("enrichment failed, retrying",
				"auction_id", item.AuctionID,
				"attempt", item.Retries+1,
				"max_attempts", q.cfg.MaxRetries+1,
				"err", o.err,
			)
			if _, dup := q.queued[item.AuctionID]; !dup {
				q.items = append(q.items, item)
				q.queued[item.AuctionID] = struct{}{}
			}
			continue
		}

		stats.Failed++
		stats.Processed++
		stats.Errors = append(stats.Errors, ItemError{
			ID:      o.item.AuctionID,
			Error:   o.err.Error(),
			Retries: o.item.Retries,
		})
		q.logger.Error("enrichment failed permanently",
			"auction_id", o.item.AuctionID,
			"retries", o.item.Retries,
			"err", o.err,
		)
	}
	return len(q.items)
}

// -----------------------------------------------------------------------------
// Store-backed helpers
// -----------------------------------------------------------------------------

// Reconcile resets processing rows older than StaleAfter to pending, then
// queues every pending row. Run it at startup: jobs that were in flight when
// the process died are otherwise stuck in processing.
func (q *Queue) Reconcile(ctx context.Context) (int, error) {
	now := q.now()
	reset, err := q.store.ResetStaleProcessing(ctx, now.Add(-q.cfg.StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	if reset > 0 {
		q.logger.Warn("reclaimed stale processing rows", "count", reset, "stale_after", q.cfg.StaleAfter)
	}
	return q.EnqueuePending(ctx)
}

// EnqueuePending queues every pending row and returns how many were added.
func (q *Queue) EnqueuePending(ctx context.Context) (int, error) {
	ids, err := q.store.ListIDs(ctx, model.EnrichmentPending)
	if err != nil {
		return 0, fmt.Errorf("list pending auctions: %w", err)
	}
	return q.AddBatch(ids, model.PriorityNormal), nil
}

// EnrichAllPending queues every pending row and drains the queue.
func (q *Queue) EnrichAllPending(ctx context.Context) (Stats, error) {
	if _, err := q.EnqueuePending(ctx); err != nil {
		return Stats{}, err
	}
	return q.ProcessQueue(ctx)
}

// ReEnrichAll resets every row to pending, queues them all and drains the
// queue.
func (q *Queue) ReEnrichAll(ctx context.Context) (Stats, error) {
	n, err := q.store.ResetEnrichment(ctx, q.now())
	if err != nil {
		return Stats{}, fmt.Errorf("reset enrichment: %w", err)
	}
	q.logger.Info("enrichment reset", "count", n)
	return q.EnrichAllPending(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
