package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration // Zero disables the job
	Run      func(ctx context.Context) error
}

// Config holds scheduler configuration.
type Config struct {
	Timeout    time.Duration // Per-run timeout (default: 30m)
	RunOnStart bool          // Run every job immediately on Start (default: true)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Minute,
		RunOnStart: true,
	}
}

// Scheduler runs jobs on fixed intervals until stopped.
type Scheduler struct {
	cfg    Config
	jobs   []Job
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler.
func New(cfg Config, jobs []Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		logger: logger,
	}
}

// Start launches one loop per enabled job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	enabled := 0
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.logger.Debug("job disabled", "job", job.Name)
			continue
		}
		enabled++
		s.wg.Add(1)
		go s.run(job)
	}

	s.logger.Info("scheduler started", "jobs", enabled)
	return nil
}

// Stop cancels running jobs and waits for their loops to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.runOnce(job)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(job)
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Warn("job failed",
			"job", job.Name,
			"duration", time.Since(start),
			"err", err,
		)
		return
	}
	s.logger.Debug("job complete", "job", job.Name, "duration", time.Since(start))
}
