// Package scheduler drives the simulation clock: a self-chaining tick timer
// that advances the shared row cursor, selects vehicles due for scoring and
// fans their jobs out to the work queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleetwatch/internal/agents"
	"fleetwatch/internal/events"
	"fleetwatch/internal/inference"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/queue"
	"fleetwatch/internal/store"
	"fleetwatch/internal/telemetry"
)

// Config tunes the clock. Zero values fall back to defaults.
type Config struct {
	TickInterval         time.Duration // wall time per tick, default 10s
	TickRows             int           // rows the cursor advances per tick, default 288
	PredictionInterval   int           // rows between predictions per vehicle, default 288
	MaxRows              int           // cursor cap, default 17280
	MinRowsForPrediction int           // minimum window before scoring, default 2016
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.TickRows <= 0 {
		c.TickRows = 288
	}
	if c.PredictionInterval <= 0 {
		c.PredictionInterval = 288
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 17280
	}
	if c.MinRowsForPrediction <= 0 {
		c.MinRowsForPrediction = 2016
	}
	return c
}

// Deps are the scheduler's collaborators. NewQueue receives the job
// processor and returns the queue the scheduler will own and close.
type Deps struct {
	Store       store.Store
	Reader      *telemetry.Reader
	Inference   inference.Service
	Coordinator *agents.Coordinator
	Bus         *events.Bus
	NewQueue    func(queue.Processor) queue.WorkQueue
}

// Scheduler owns the virtual clock. One instance per process; Start, Stop
// and Reset are safe to call from the control surface concurrently.
type Scheduler struct {
	store       store.Store
	reader      *telemetry.Reader
	inference   inference.Service
	coordinator *agents.Coordinator
	bus         *events.Bus
	queue       queue.WorkQueue
	state       *stateTable
	cfg         Config
	logger      *slog.Logger

	mu              sync.Mutex
	running         bool
	tickInProgress  bool
	tickCount       int
	currentRowIndex int
	cancel          context.CancelFunc
	loopDone        chan struct{}
}

// New wires a scheduler. The queue is constructed here so its processor is
// the scheduler's own job function.
func New(deps Deps, cfg Config) *Scheduler {
	s := &Scheduler{
		store:       deps.Store,
		reader:      deps.Reader,
		inference:   deps.Inference,
		coordinator: deps.Coordinator,
		bus:         deps.Bus,
		state:       newStateTable(),
		cfg:         cfg.withDefaults(),
		logger:      logging.New("scheduler"),
	}
	s.queue = deps.NewQueue(s.processJob)
	return s
}

// Start begins ticking from the given simulation day. Starting an already
// running scheduler is an error; Reset first to restart from scratch.
func (s *Scheduler) Start(startDay int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if startDay < 0 {
		startDay = 0
	}
	row := startDay * s.cfg.PredictionInterval
	if row > s.cfg.MaxRows {
		row = s.cfg.MaxRows
	}
	s.currentRowIndex = row
	s.running = true
	s.queue.Resume()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	go s.loop(ctx)

	s.logger.Info("simulation started",
		"start_day", startDay, "row_index", row, "tick_interval", s.cfg.TickInterval.String())
	s.publishStateLocked()
	return nil
}

// Stop halts the clock and cancels the current tick's work: waiting jobs
// are discarded and in-flight jobs terminate cancelled, bounded by one
// inference timeout. Start resumes the queue for the next run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.loopDone
	s.mu.Unlock()

	cancel()
	s.queue.Pause()
	s.queue.CancelAll()
	<-done
	s.logger.Info("simulation stopped")

	s.mu.Lock()
	s.publishStateLocked()
	s.mu.Unlock()
}

// Reset stops the clock, discards waiting jobs and clears all simulation
// state. Persisted cases and predictions are untouched.
func (s *Scheduler) Reset() {
	s.Stop()
	s.queue.CancelAll()
	s.mu.Lock()
	s.tickCount = 0
	s.currentRowIndex = 0
	s.state.reset()
	s.logger.Info("simulation reset")
	s.publishStateLocked()
	s.mu.Unlock()
}

// Snapshot returns the current simulation state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() Snapshot {
	return Snapshot{
		Running:         s.running,
		TickCount:       s.tickCount,
		CurrentRowIndex: s.currentRowIndex,
		MaxRows:         s.cfg.MaxRows,
		SimDay:          s.currentRowIndex / s.cfg.PredictionInterval,
		SimDayTotal:     s.cfg.MaxRows / s.cfg.PredictionInterval,
		Vehicles:        s.state.snapshot(),
		Queue:           s.queue.Counters(),
	}
}

func (s *Scheduler) publishStateLocked() {
	s.bus.Publish(events.TypeState, s.snapshotLocked())
}

// loop is the self-chaining timer: the next tick is armed only after the
// previous one has fully drained, so ticks never overlap.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)
	timer := time.NewTimer(s.cfg.TickInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		atEnd := s.tick(ctx)
		if atEnd {
			s.mu.Lock()
			s.running = false
			s.cancel()
			s.logger.Info("simulation complete", "row_index", s.currentRowIndex)
			s.publishStateLocked()
			s.mu.Unlock()
			return
		}
		timer.Reset(s.cfg.TickInterval)
	}
}

// tick advances the cursor, enqueues due vehicles and waits for every job
// from this tick to terminate. Returns true when the cursor has hit the cap.
func (s *Scheduler) tick(ctx context.Context) bool {
	s.mu.Lock()
	if s.tickInProgress {
		// Guard for external triggers; the loop itself cannot overlap.
		s.mu.Unlock()
		return false
	}
	s.tickInProgress = true
	next := s.currentRowIndex + s.cfg.TickRows
	if next > s.cfg.MaxRows {
		next = s.cfg.MaxRows
	}
	s.currentRowIndex = next
	s.tickCount++
	tickCount := s.tickCount
	simDay := next / s.cfg.PredictionInterval
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.tickInProgress = false
		s.mu.Unlock()
	}()

	s.bus.Publish(events.TypeTick, events.TickPayload{
		TickCount:       tickCount,
		CurrentRowIndex: next,
		MaxRows:         s.cfg.MaxRows,
		SimDay:          simDay,
		SimDayTotal:     s.cfg.MaxRows / s.cfg.PredictionInterval,
	})

	queued := s.enqueueDue(ctx, next, simDay)

	// The drain uses a fresh context rather than the loop's: if Stop fired
	// mid-tick it cancels the jobs through the queue, and the drain still
	// has to wait for those cancellations to land.
	if err := s.queue.Flush(context.Background()); err != nil {
		s.logger.Error("tick drain", "tick", tickCount, "error", err)
	}

	s.bus.Publish(events.TypeTickSummary, events.TickSummaryPayload{
		TickCount:      tickCount,
		SimDay:         simDay,
		VehiclesQueued: queued,
	})
	s.logger.Info("tick complete",
		"tick", tickCount, "row_index", next, "sim_day", simDay, "vehicles_queued", queued)

	return next >= s.cfg.MaxRows
}

// enqueueDue schedules one job per vehicle whose prediction interval has
// elapsed at the given cursor. lastPredictionRow advances before the job
// runs; failures wait for the next interval rather than retrying each tick.
func (s *Scheduler) enqueueDue(ctx context.Context, rowIndex, simDay int) int {
	vehicles, err := s.store.ListVehicles()
	if err != nil {
		s.logger.Error("list vehicles", "error", err)
		return 0
	}
	var jobs []queue.Job
	for _, v := range vehicles {
		if !s.state.due(v.ID, rowIndex, s.cfg.MinRowsForPrediction, s.cfg.PredictionInterval) {
			continue
		}
		s.state.markScheduled(v.ID, rowIndex)
		jobs = append(jobs, queue.Job{VehicleID: v.ID, RowIndex: rowIndex, SimDay: simDay})
	}
	if len(jobs) == 0 {
		return 0
	}
	accepted, err := s.queue.Enqueue(ctx, jobs...)
	if err != nil {
		s.logger.Error("enqueue tick jobs", "error", err)
	}
	return accepted
}

// Close stops the clock and shuts the queue down.
func (s *Scheduler) Close() error {
	s.Stop()
	return s.queue.Close()
}
