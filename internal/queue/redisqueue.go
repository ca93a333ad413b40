package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/logging"
)

const (
	redisWaitingKey = "fleetwatch:queue:waiting"
	redisIDsKey     = "fleetwatch:queue:ids"
	redisPopTimeout = time.Second
)

// RedisQueue is the durable WorkQueue: the waiting list lives in a Redis
// list and the dedup set in a Redis set, so queued work survives process
// restarts. Execution semantics match the in-process pool.
type RedisQueue struct {
	rdb     *redis.Client
	exec    *executor
	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	paused atomic.Bool
	closed atomic.Bool

	mu        sync.Mutex
	active    int64
	counters  Counters
	runCtx    context.Context // current run context, renewed by CancelAll
	runCancel context.CancelFunc
}

var _ WorkQueue = (*RedisQueue)(nil)

// NewRedisQueue starts cfg.Concurrency workers against rdb. The caller owns
// the client; Close stops the workers but does not close rdb.
func NewRedisQueue(rdb *redis.Client, proc Processor, cfg Config, metrics *Metrics) *RedisQueue {
	cfg = cfg.withDefaults()
	logger := logging.New("queue.redis")
	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		rdb:     rdb,
		exec:    newExecutor(proc, cfg, logger),
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	q.runCtx, q.runCancel = context.WithCancel(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue pushes jobs whose id wins the SADD race; losers are duplicates
// already waiting or in flight.
func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...Job) (int, error) {
	if q.closed.Load() {
		return 0, ErrClosed
	}
	accepted := 0
	for _, job := range jobs {
		added, err := q.rdb.SAdd(ctx, redisIDsKey, job.ID()).Result()
		if err != nil {
			return accepted, fmt.Errorf("queue enqueue %s: %w", job.ID(), err)
		}
		if added == 0 {
			q.logger.Debug("duplicate job dropped", "job_id", job.ID())
			continue
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return accepted, fmt.Errorf("queue encode %s: %w", job.ID(), err)
		}
		if err := q.rdb.RPush(ctx, redisWaitingKey, payload).Err(); err != nil {
			return accepted, fmt.Errorf("queue push %s: %w", job.ID(), err)
		}
		accepted++
	}
	if n, err := q.rdb.LLen(ctx, redisWaitingKey).Result(); err == nil {
		q.metrics.setWaiting(n)
	}
	return accepted, nil
}

func (q *RedisQueue) worker() {
	defer q.wg.Done()
	for {
		if q.ctx.Err() != nil {
			return
		}
		if q.paused.Load() {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		vals, err := q.rdb.BLPop(q.ctx, redisPopTimeout, redisWaitingKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Error("queue pop", "error", err)
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			q.logger.Error("queue decode, entry dropped", "error", err)
			continue
		}

		q.mu.Lock()
		q.active++
		q.metrics.setActive(q.active)
		runCtx := q.runCtx
		q.mu.Unlock()

		res := q.exec.execute(runCtx, job)
		q.finish(res)
	}
}

func (q *RedisQueue) finish(res Result) {
	// Cleanup uses a fresh context so a closing queue still releases ids.
	ctx, cancelCleanup := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCleanup()
	if err := q.rdb.SRem(ctx, redisIDsKey, res.Job.ID()).Err(); err != nil {
		q.logger.Error("queue id release", "job_id", res.Job.ID(), "error", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	q.metrics.setActive(q.active)
	switch res.Outcome {
	case OutcomeCompleted:
		q.counters.Completed++
	case OutcomeSkipped:
		q.counters.Skipped++
	case OutcomeCancelled:
		q.counters.Cancelled++
	default:
		q.counters.Failed++
	}
	q.metrics.observe(res.Outcome)
}

// Flush polls until the waiting list is empty and no job is in flight.
func (q *RedisQueue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		n, err := q.rdb.LLen(ctx, redisWaitingKey).Result()
		if err != nil {
			return fmt.Errorf("queue flush: %w", err)
		}
		q.mu.Lock()
		active := q.active
		q.mu.Unlock()
		if n == 0 && active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) Pause()  { q.paused.Store(true) }
func (q *RedisQueue) Resume() { q.paused.Store(false) }

// CancelAll empties the waiting list, releases its ids and cancels the run
// context, so in-flight jobs terminate cancelled.
func (q *RedisQueue) CancelAll() {
	ctx, cancelCleanup := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCleanup()
	n := 0
	for {
		val, err := q.rdb.LPop(ctx, redisWaitingKey).Result()
		if err != nil {
			if err != redis.Nil {
				q.logger.Error("queue cancel", "error", err)
			}
			break
		}
		var job Job
		if json.Unmarshal([]byte(val), &job) == nil {
			q.rdb.SRem(ctx, redisIDsKey, job.ID())
		}
		n++
	}
	q.mu.Lock()
	q.counters.Cancelled += int64(n)
	q.runCancel()
	q.runCtx, q.runCancel = context.WithCancel(q.ctx)
	q.mu.Unlock()
	q.metrics.setWaiting(0)
	if n > 0 {
		q.logger.Info("waiting jobs cancelled", "count", n)
	}
}

// Counters returns a snapshot; Waiting comes from Redis best-effort.
func (q *RedisQueue) Counters() Counters {
	ctx, cancelCount := context.WithTimeout(context.Background(), time.Second)
	defer cancelCount()
	waiting, _ := q.rdb.LLen(ctx, redisWaitingKey).Result()
	q.mu.Lock()
	defer q.mu.Unlock()
	c := q.counters
	c.Waiting = waiting
	c.Active = q.active
	return c
}

// Close stops the workers. Waiting jobs stay in Redis for the next run.
func (q *RedisQueue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.cancel()
	q.wg.Wait()
	return nil
}
