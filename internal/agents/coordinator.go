package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/events"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/recommend"
	"fleetwatch/internal/store"
)

// Disposition is the terminal classification of one pipeline invocation.
type Disposition string

const (
	DispositionHealthy    Disposition = "healthy"
	DispositionCaseExists Disposition = "case_exists"
	DispositionAlerted    Disposition = "alerted"
	DispositionFailed     Disposition = "failed"
)

// Result summarizes what the coordinator did with one prediction.
type Result struct {
	Disposition Disposition
	CaseID      string
	Severity    domain.Severity
	State       domain.CaseState
}

// Config tunes the coordinator.
type Config struct {
	HealthyRULThreshold float64 // default 60
	Retry               RetryConfig
}

func (c Config) threshold() float64 {
	if c.HealthyRULThreshold <= 0 {
		return 60
	}
	return c.HealthyRULThreshold
}

// Coordinator sequences the fixed pipeline over one case: severity
// classifier, diagnostic summary, recommendation, customer message.
// Distinct cases proceed independently; within a case stages run in order.
type Coordinator struct {
	store   store.Store
	backend Backend
	engine  *recommend.Engine
	bus     *events.Bus
	cfg     Config
	logger  *slog.Logger
}

// NewCoordinator wires the pipeline dependencies.
func NewCoordinator(st store.Store, backend Backend, engine *recommend.Engine, bus *events.Bus, cfg Config) *Coordinator {
	return &Coordinator{
		store:   st,
		backend: backend,
		engine:  engine,
		bus:     bus,
		cfg:     cfg,
		logger:  logging.New("agents"),
	}
}

// HandlePrediction applies the health and dedup gates, then runs the
// pipeline for a new case. It is the single entry point jobs use after a
// prediction has been recorded.
func (co *Coordinator) HandlePrediction(ctx context.Context, ev *domain.PredictionEvent, vehicle *domain.Vehicle) (*Result, error) {
	out := ev.Outcome

	// Health gate: no case at or above the RUL threshold.
	if out.EtaDays >= co.cfg.threshold() {
		co.bus.Publish(events.TypeHealthy, events.HealthyPayload{
			VehicleID:      vehicle.ID,
			EtaDays:        out.EtaDays,
			PredictionType: out.PredictionType,
		})
		return &Result{Disposition: DispositionHealthy}, nil
	}

	// Dedup gate: one non-terminal case per (vehicle, predictionType).
	existing, err := co.store.FindActiveCase(vehicle.ID, out.PredictionType)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup %s/%s: %w", vehicle.ID, out.PredictionType, err)
	}
	if existing != nil {
		if err := co.store.AttachPrediction(existing.ID, ev.ID); err != nil {
			return nil, fmt.Errorf("attach prediction to %s: %w", existing.ID, err)
		}
		co.bus.Publish(events.TypeCaseExists, events.CaseExistsPayload{
			VehicleID:      vehicle.ID,
			CaseID:         existing.ID,
			PredictionType: out.PredictionType,
		})
		co.logger.Info("prediction linked to active case",
			"vehicle_id", vehicle.ID, "case_id", existing.ID, "type", string(out.PredictionType))
		return &Result{Disposition: DispositionCaseExists, CaseID: existing.ID, State: existing.CurrentState}, nil
	}

	c := &domain.Case{
		ID:           uuid.NewString(),
		VehicleID:    vehicle.ID,
		PredictionID: ev.ID,
		CurrentState: domain.StateReceived,
		Severity:     domain.SeverityUnknown,
		Metadata: domain.CaseMetadata{
			PredictionType: out.PredictionType,
			EtaDays:        out.EtaDays,
			Confidence:     out.Confidence,
			SimDay:         ev.SimDay,
		},
	}
	if err := co.store.CreateCase(c); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Duplicate create is dedup at work, not a caller error.
			return &Result{Disposition: DispositionCaseExists, CaseID: c.ID}, nil
		}
		return nil, fmt.Errorf("create case: %w", err)
	}
	if err := co.store.TransitionCase(c.ID, domain.StateOrchestrating, "pipeline started"); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	result, err := co.runPipeline(ctx, c, ev, vehicle)
	if err != nil {
		return nil, err
	}

	co.bus.Publish(events.TypeAlert, events.AlertPayload{
		VehicleID:      vehicle.ID,
		CaseID:         result.CaseID,
		Severity:       result.Severity,
		PredictionType: out.PredictionType,
		EtaDays:        out.EtaDays,
		Confidence:     out.Confidence,
		State:          result.State,
	})
	return result, nil
}

// runPipeline executes stages A..D for a freshly opened case.
func (co *Coordinator) runPipeline(ctx context.Context, c *domain.Case, ev *domain.PredictionEvent, vehicle *domain.Vehicle) (*Result, error) {
	// Stage A: severity classification, always first.
	plan, rawPlan, err := runStage[SeverityPlan](ctx, co.backend, co.cfg.Retry, StageSeverity, SeverityInput{Prediction: ev, Vehicle: vehicle})
	if err != nil {
		return co.failCase(c, StageSeverity, err)
	}
	if err := co.store.SetAgentResult(c.ID, StageSeverity, rawPlan); err != nil {
		return nil, fmt.Errorf("save severity result: %w", err)
	}
	if err := co.store.SetCaseSeverity(c.ID, plan.Severity); err != nil {
		return nil, fmt.Errorf("set severity: %w", err)
	}
	co.logger.Info("severity classified",
		"case_id", c.ID, "severity", string(plan.Severity), "contact", plan.CustomerContact)

	wantRecommendation := plan.Wants(StageRecommendation)
	wantMessage := plan.Wants(StageMessage)
	// Stage B runs before C and D whenever either is requested, even if
	// the plan omitted it.
	wantDiagnostic := plan.Wants(StageDiagnostic) || wantRecommendation || wantMessage

	var diagnostic *DiagnosticSummary
	if wantDiagnostic {
		var rawDiag json.RawMessage
		diagnostic, rawDiag, err = runStage[DiagnosticSummary](ctx, co.backend, co.cfg.Retry, StageDiagnostic, DiagnosticInput{Prediction: ev, Vehicle: vehicle})
		if err != nil {
			return co.failCase(c, StageDiagnostic, err)
		}
		if err := co.store.SetAgentResult(c.ID, StageDiagnostic, rawDiag); err != nil {
			return nil, fmt.Errorf("save diagnostic result: %w", err)
		}
	}

	owner := co.ownerProfile(vehicle)

	if wantRecommendation {
		rec, err := co.recommendStage(ctx, plan.Severity, ev, vehicle, owner)
		if err != nil {
			return co.failCase(c, StageRecommendation, err)
		}
		rawRec, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode recommendation: %w", err)
		}
		if err := co.store.SetAgentResult(c.ID, StageRecommendation, rawRec); err != nil {
			return nil, fmt.Errorf("save recommendation result: %w", err)
		}
	}

	if wantMessage {
		_, rawMsg, err := runStage[MessagePlan](ctx, co.backend, co.cfg.Retry, StageMessage, MessageInput{
			Diagnostic: diagnostic,
			Severity:   plan.Severity,
			Owner:      owner,
			Vehicle:    vehicle,
		})
		if err != nil {
			return co.failCase(c, StageMessage, err)
		}
		if err := co.store.SetAgentResult(c.ID, StageMessage, rawMsg); err != nil {
			return nil, fmt.Errorf("save message result: %w", err)
		}
	}

	// Final transition per what actually ran.
	final := domain.StateProcessed
	note := "pipeline complete"
	switch {
	case wantRecommendation:
		final = domain.StateAwaitingUserApproval
		note = "recommendations ready, awaiting user approval"
	case wantMessage:
		final = domain.StateCustomerNotified
		note = "customer notified"
	}
	if err := co.store.TransitionCase(c.ID, final, note); err != nil {
		return nil, fmt.Errorf("finish pipeline: %w", err)
	}

	return &Result{
		Disposition: DispositionAlerted,
		CaseID:      c.ID,
		Severity:    plan.Severity,
		State:       final,
	}, nil
}

// recommendStage fetches the candidate snapshot and runs the deterministic
// scorer. The engine itself performs no I/O.
func (co *Coordinator) recommendStage(ctx context.Context, sev domain.Severity, ev *domain.PredictionEvent, vehicle *domain.Vehicle, owner *domain.UserProfile) (*recommend.Recommendation, error) {
	var loc *domain.GeoPoint
	preferred := ""
	if owner != nil {
		loc = owner.Location
		preferred = owner.PreferredCenter
	}
	centers, err := recommend.FetchCandidates(ctx, co.store, loc, co.engine.RadiusFor(sev))
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	return co.engine.Recommend(recommend.Input{
		Severity:        sev,
		EtaDays:         ev.Outcome.EtaDays,
		Vehicle:         vehicle,
		OwnerLocation:   loc,
		PreferredCenter: preferred,
		Today:           ev.CreatedAt,
		Centers:         centers,
	})
}

func (co *Coordinator) ownerProfile(vehicle *domain.Vehicle) *domain.UserProfile {
	if vehicle.OwnerID == "" {
		return nil
	}
	p, err := co.store.GetProfile(vehicle.OwnerID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			co.logger.Warn("owner profile lookup failed", "owner_id", vehicle.OwnerID, "error", err)
		}
		return nil
	}
	return p
}

// failCase records the failing stage and moves the case to FAILED. Stage
// failures end this case's pipeline but never poison other cases.
func (co *Coordinator) failCase(c *domain.Case, stage string, cause error) (*Result, error) {
	co.logger.Error("pipeline stage failed", "case_id", c.ID, "stage", stage, "error", cause)
	if err := co.store.FailCase(c.ID, stage, cause.Error()); err != nil {
		return nil, fmt.Errorf("record stage failure: %w", err)
	}
	cur, err := co.store.GetCase(c.ID)
	if err != nil {
		return nil, fmt.Errorf("reload failed case: %w", err)
	}
	return &Result{
		Disposition: DispositionFailed,
		CaseID:      c.ID,
		Severity:    cur.Severity,
		State:       cur.CurrentState,
	}, nil
}
