package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/agents"
	"fleetwatch/internal/catalog"
	"fleetwatch/internal/config"
	"fleetwatch/internal/events"
	"fleetwatch/internal/inference"
	"fleetwatch/internal/queue"
	"fleetwatch/internal/recommend"
	"fleetwatch/internal/scheduler"
	"fleetwatch/internal/store"
	"fleetwatch/internal/telemetry"
)

// stack is the assembled control plane shared by serve and simulate.
type stack struct {
	cfg       *config.Config
	store     store.Store
	bus       *events.Bus
	inference inference.Service
	agents    *agents.Coordinator
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
}

// buildStack opens the database and wires every component. useStub swaps
// the HTTP inference client for the deterministic offline stub.
func buildStack(cfg *config.Config, useStub bool) (*stack, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var svc inference.Service
	if useStub {
		stub := inference.NewStub()
		for id, out := range catalog.DemoOutcomes() {
			stub.SetOutcome(id, out)
		}
		svc = stub
	} else {
		svc, err = inference.NewClient(cfg.MLAPIURL, inference.WithTimeout(cfg.InferenceTimeout))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("inference client: %w", err)
		}
	}

	bus := events.NewBus()
	engine := recommend.NewEngine(recommend.Config{
		BaseRadiusKM:       cfg.SearchRadiusKM,
		NominalSlotsPerDay: cfg.NominalSlotsPerDay,
	})
	coordinator := agents.NewCoordinator(st, agents.NewStub(), engine, bus, agents.Config{
		HealthyRULThreshold: cfg.HealthyRULThreshold,
		Retry:               agents.RetryConfig{Attempts: cfg.StageAttempts, Backoff: cfg.StageBackoff},
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := queue.NewMetrics(registry)
	queueCfg := queue.Config{
		Concurrency: cfg.QueueConcurrency,
		MaxJobs:     cfg.QueueMaxJobs,
		Window:      cfg.QueueWindow,
		Attempts:    cfg.JobAttempts,
		Backoff:     cfg.JobBackoff,
	}
	newQueue := func(proc queue.Processor) queue.WorkQueue {
		if cfg.RedisAddr == "" {
			return queue.NewPool(proc, queueCfg, metrics)
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return queue.NewRedisQueue(rdb, proc, queueCfg, metrics)
	}

	sched := scheduler.New(scheduler.Deps{
		Store:       st,
		Reader:      telemetry.NewReader(st),
		Inference:   svc,
		Coordinator: coordinator,
		Bus:         bus,
		NewQueue:    newQueue,
	}, scheduler.Config{
		TickInterval:         cfg.TickInterval(),
		TickRows:             cfg.TickRows,
		PredictionInterval:   cfg.PredictionInterval,
		MaxRows:              cfg.MaxRows,
		MinRowsForPrediction: cfg.MinRowsForPrediction,
	})

	return &stack{
		cfg:       cfg,
		store:     st,
		bus:       bus,
		inference: svc,
		agents:    coordinator,
		scheduler: sched,
		registry:  registry,
	}, nil
}

func (s *stack) close() {
	s.scheduler.Close()
	s.bus.Close()
	s.store.Close()
}

// controls adapts the scheduler to the stream's control interface.
type controls struct {
	*scheduler.Scheduler
}

func (c controls) Snapshot() any { return c.Scheduler.Snapshot() }
