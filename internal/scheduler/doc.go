// Package scheduler implements the periodic job runner.
//
// The scheduler:
//   - Runs each job once on start, then on its own interval
//   - Skips jobs with a zero interval
//   - Bounds each run with a per-run timeout
//   - Logs failures and keeps going
package scheduler
