package inference

import (
	"context"
	"sync"
	"time"

	"fleetwatch/internal/domain"
)

// Stub is a canned inference service for tests and offline simulation.
// Outcomes are served per vehicle; Default covers the rest.
type Stub struct {
	mu      sync.Mutex
	perVeh  map[string]*domain.PredictionOutcome
	Default *domain.PredictionOutcome
	Err     error
	Delay   time.Duration
	calls   int
}

// NewStub returns a stub with a healthy default outcome.
func NewStub() *Stub {
	return &Stub{
		perVeh: make(map[string]*domain.PredictionOutcome),
		Default: &domain.PredictionOutcome{
			PredictionType: domain.PredictionHealthy,
			Confidence:     0.3,
			EtaDays:        90,
			Source:         "stub",
		},
	}
}

// SetOutcome pins the outcome returned for one vehicle.
func (s *Stub) SetOutcome(vehicleID string, out *domain.PredictionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perVeh[vehicleID] = out
}

// Calls returns how many PredictAll invocations have been made.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Stub) PredictAll(ctx context.Context, rows []map[string]any) (*domain.PredictionOutcome, error) {
	s.mu.Lock()
	s.calls++
	err := s.Err
	delay := s.Delay
	var out *domain.PredictionOutcome
	vehicleID := ""
	if len(rows) > 0 {
		if v, ok := rows[0]["vehicle_id"].(string); ok {
			vehicleID = v
		}
	}
	if o, ok := s.perVeh[vehicleID]; ok {
		out = o
	} else {
		out = s.Default
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	cp := *out
	cp.VehicleID = vehicleID
	return &cp, nil
}

func (s *Stub) Health(ctx context.Context) error { return s.Err }
