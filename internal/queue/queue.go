// Package queue runs prediction jobs with bounded concurrency, a token
// bucket over job starts, per-job retry and duplicate suppression. The
// in-process pool is the default; a Redis-backed variant survives restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"fleetwatch/internal/logging"
)

// Outcome classifies how a job terminated.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped" // insufficient data, no inference attempted
	OutcomeCancelled Outcome = "cancelled"
)

// Job is one unit of work: run inference for a vehicle at a row index.
type Job struct {
	VehicleID string `json:"vehicleId"`
	RowIndex  int    `json:"rowIndex"`
	SimDay    int    `json:"simDay"`
}

// ID is the dedup key. Two jobs with the same id never coexist in the
// waiting set or in flight.
func (j Job) ID() string {
	return fmt.Sprintf("%s-%d", j.VehicleID, j.RowIndex)
}

// Result pairs a finished job with its outcome.
type Result struct {
	Job     Job
	Outcome Outcome
	Err     error
}

// Processor executes one job attempt. Returning OutcomeSkipped with a nil
// error ends the job without retry; any error triggers the retry policy.
type Processor func(ctx context.Context, job Job) (Outcome, error)

// Counters is a point-in-time snapshot of queue occupancy and totals.
type Counters struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Cancelled int64 `json:"cancelled"`
}

// WorkQueue accepts jobs and runs them through a Processor. Implementations
// are safe for concurrent use.
type WorkQueue interface {
	// Enqueue adds jobs, silently dropping duplicates of waiting or
	// in-flight ids. Returns how many were accepted.
	Enqueue(ctx context.Context, jobs ...Job) (int, error)
	// Flush blocks until the queue is idle (nothing waiting or active).
	Flush(ctx context.Context) error
	// Pause stops launching new jobs; in-flight jobs run to completion.
	Pause()
	// Resume lifts a pause.
	Resume()
	// CancelAll discards all waiting jobs and cancels the context of
	// in-flight jobs, which terminate with OutcomeCancelled.
	CancelAll()
	Counters() Counters
	Close() error
}

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Config tunes a queue. Zero values fall back to defaults.
type Config struct {
	Concurrency int           // simultaneous jobs, default 6
	MaxJobs     int           // job starts per window, default 10
	Window      time.Duration // rate window, default 5s
	Attempts    int           // attempts per job, default 2
	Backoff     time.Duration // base retry backoff, default 2s
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 6
	}
	if c.MaxJobs <= 0 {
		c.MaxJobs = 10
	}
	if c.Window <= 0 {
		c.Window = 5 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	return c
}

// executor runs a single job under the rate limit and retry policy. Both
// queue implementations share it.
type executor struct {
	proc    Processor
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

func newExecutor(proc Processor, cfg Config, logger *slog.Logger) *executor {
	if logger == nil {
		logger = logging.New("queue")
	}
	return &executor{
		proc:    proc,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.MaxJobs)/cfg.Window.Seconds()), cfg.MaxJobs),
		cfg:     cfg,
		logger:  logger,
	}
}

// execute waits for a rate token, then runs up to cfg.Attempts attempts
// with exponential backoff. A cancelled context yields OutcomeCancelled.
func (e *executor) execute(ctx context.Context, job Job) Result {
	if err := e.limiter.Wait(ctx); err != nil {
		return Result{Job: job, Outcome: OutcomeCancelled, Err: err}
	}
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if attempt > 1 {
			backoff := e.cfg.Backoff << (attempt - 2)
			e.logger.Warn("job retry",
				"job_id", job.ID(), "attempt", attempt, "backoff", backoff.String(), "error", lastErr)
			select {
			case <-ctx.Done():
				return Result{Job: job, Outcome: OutcomeCancelled, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
		outcome, err := e.proc(ctx, job)
		if err == nil {
			return Result{Job: job, Outcome: outcome}
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{Job: job, Outcome: OutcomeCancelled, Err: err}
		}
		lastErr = err
	}
	e.logger.Error("job failed after retries",
		"job_id", job.ID(), "attempts", e.cfg.Attempts, "error", lastErr)
	return Result{Job: job, Outcome: OutcomeFailed, Err: lastErr}
}
