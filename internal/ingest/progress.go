package ingest

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress is a read-only snapshot of the current or last scrape run.
// Version increases with every published snapshot.
type Progress struct {
	RunID            string     `json:"runId,omitempty"`
	IsActive         bool       `json:"isActive"`
	CurrentSource    string     `json:"currentSource"`
	CompletedSources int        `json:"completedSources"`
	TotalSources     int        `json:"totalSources"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	Version          uint64     `json:"version"`
}

// progressTracker publishes immutable Progress snapshots. The coordinator is
// the only writer; readers never block it.
type progressTracker struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Progress]
}

func newProgressTracker(totalSources int) *progressTracker {
	t := &progressTracker{}
	t.current.Store(&Progress{TotalSources: totalSources})
	return t
}

// Load returns the latest snapshot.
func (t *progressTracker) Load() Progress {
	return *t.current.Load()
}

// update copies the latest snapshot, applies fn and publishes the result.
func (t *progressTracker) update(fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := *t.current.Load()
	fn(&next)
	next.Version++
	t.current.Store(&next)
}
