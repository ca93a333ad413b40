package scheduler

import (
	"context"
	"fmt"
	"time"

	"fleetwatch/internal/agents"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/events"
	"fleetwatch/internal/queue"
	"fleetwatch/internal/telemetry"
)

// processJob is the queue Processor: read the telemetry window, call
// inference, persist the prediction and hand it to the case pipeline.
// Errors bubble up so the queue's retry policy applies; a short window is
// a skip, not an error.
func (s *Scheduler) processJob(ctx context.Context, job queue.Job) (queue.Outcome, error) {
	vehicle, err := s.store.GetVehicle(job.VehicleID)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("job %s: load vehicle: %w", job.ID(), err)
	}

	rows, err := s.reader.RowsUpTo(ctx, job.VehicleID, job.RowIndex-1)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("job %s: %w", job.ID(), err)
	}
	if len(rows) < s.cfg.MinRowsForPrediction {
		s.logger.Debug("window too short, job skipped",
			"job_id", job.ID(), "rows", len(rows), "min_rows", s.cfg.MinRowsForPrediction)
		return queue.OutcomeSkipped, nil
	}

	outcome, err := s.inference.PredictAll(ctx, telemetry.CanonicalRows(rows))
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("job %s: inference: %w", job.ID(), err)
	}

	ev := &domain.PredictionEvent{
		RowIndex:  job.RowIndex,
		SimDay:    job.SimDay,
		CreatedAt: time.Now().UTC(),
		Outcome:   *outcome,
	}
	id, err := s.store.SavePrediction(ev)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("job %s: save prediction: %w", job.ID(), err)
	}
	ev.ID = id

	s.bus.Publish(events.TypePrediction, events.PredictionPayload{
		VehicleID:      vehicle.ID,
		PredictionType: outcome.PredictionType,
		EtaDays:        outcome.EtaDays,
		Confidence:     outcome.Confidence,
		RowIndex:       job.RowIndex,
		SimDay:         job.SimDay,
	})

	res, err := s.coordinator.HandlePrediction(ctx, ev, vehicle)
	if err != nil {
		return queue.OutcomeFailed, fmt.Errorf("job %s: pipeline: %w", job.ID(), err)
	}

	switch res.Disposition {
	case agents.DispositionHealthy:
		s.state.recordOutcome(vehicle.ID, StatusHealthy, outcome.PredictionType, outcome.EtaDays, "", "")
	default:
		s.state.recordOutcome(vehicle.ID, StatusAlert, outcome.PredictionType, outcome.EtaDays, res.CaseID, res.State)
	}
	return queue.OutcomeCompleted, nil
}
