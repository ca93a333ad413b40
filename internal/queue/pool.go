package queue

import (
	"context"
	"log/slog"
	"sync"

	"fleetwatch/internal/logging"
)

// Pool is the in-process WorkQueue: a fixed worker set draining a FIFO
// waiting list. Dedup and pause act on the waiting list under one lock;
// CancelAll additionally cancels the run context in-flight jobs execute
// under, so they terminate cancelled within one attempt.
type Pool struct {
	exec    *executor
	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	waiting   []Job
	ids       map[string]struct{} // waiting + in-flight job ids
	paused    bool
	closed    bool
	active    int64
	counters  Counters
	runCtx    context.Context // current run context, renewed by CancelAll
	runCancel context.CancelFunc
}

var _ WorkQueue = (*Pool)(nil)

// NewPool starts cfg.Concurrency workers immediately. metrics may be nil.
func NewPool(proc Processor, cfg Config, metrics *Metrics) *Pool {
	cfg = cfg.withDefaults()
	logger := logging.New("queue")
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		exec:    newExecutor(proc, cfg, logger),
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		ids:     make(map[string]struct{}),
	}
	p.runCtx, p.runCancel = context.WithCancel(ctx)
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue appends jobs in order, skipping ids already waiting or in flight.
func (p *Pool) Enqueue(ctx context.Context, jobs ...Job) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	accepted := 0
	for _, job := range jobs {
		id := job.ID()
		if _, dup := p.ids[id]; dup {
			p.logger.Debug("duplicate job dropped", "job_id", id)
			continue
		}
		p.ids[id] = struct{}{}
		p.waiting = append(p.waiting, job)
		accepted++
	}
	if accepted > 0 {
		p.metrics.setWaiting(int64(len(p.waiting)))
		p.cond.Broadcast()
	}
	return accepted, nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		job, ctx, ok := p.next()
		if !ok {
			return
		}
		res := p.exec.execute(ctx, job)
		p.finish(res)
	}
}

// next blocks until a job is available and the pool is neither paused nor
// closed. Returns the job with the run context it must execute under;
// false when the pool has been closed.
func (p *Pool) next() (Job, context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return Job{}, nil, false
		}
		if !p.paused && len(p.waiting) > 0 {
			job := p.waiting[0]
			p.waiting = p.waiting[1:]
			p.active++
			p.metrics.setWaiting(int64(len(p.waiting)))
			p.metrics.setActive(p.active)
			return job, p.runCtx, true
		}
		p.cond.Wait()
	}
}

func (p *Pool) finish(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ids, res.Job.ID())
	p.active--
	p.metrics.setActive(p.active)
	switch res.Outcome {
	case OutcomeCompleted:
		p.counters.Completed++
	case OutcomeSkipped:
		p.counters.Skipped++
	case OutcomeCancelled:
		p.counters.Cancelled++
	default:
		p.counters.Failed++
	}
	p.metrics.observe(res.Outcome)
	p.cond.Broadcast()
}

// Flush blocks until nothing is waiting or active, or ctx is cancelled.
func (p *Pool) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for !p.closed && (len(p.waiting) > 0 || p.active > 0) {
			p.cond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-ctx.Done():
		// Wake the waiter so its goroutine does not linger.
		p.cond.Broadcast()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Pause stops workers from picking up waiting jobs.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume lifts a pause.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// CancelAll discards the waiting list and cancels the run context, so
// in-flight jobs terminate cancelled. Jobs enqueued afterwards run under a
// fresh context.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	for _, job := range p.waiting {
		delete(p.ids, job.ID())
		p.counters.Cancelled++
		p.metrics.observe(OutcomeCancelled)
	}
	n := len(p.waiting)
	inFlight := p.active
	p.waiting = nil
	p.metrics.setWaiting(0)
	p.runCancel()
	p.runCtx, p.runCancel = context.WithCancel(p.ctx)
	p.cond.Broadcast()
	p.mu.Unlock()
	if n > 0 || inFlight > 0 {
		p.logger.Info("jobs cancelled", "waiting", n, "in_flight", inFlight)
	}
}

// Counters returns a snapshot.
func (p *Pool) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.counters
	c.Waiting = int64(len(p.waiting))
	c.Active = p.active
	return c
}

// Close cancels in-flight contexts, discards waiting jobs and stops the
// workers. Safe to call once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.waiting = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	return nil
}
