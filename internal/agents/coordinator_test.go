package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/events"
	"fleetwatch/internal/recommend"
	"fleetwatch/internal/store"
)

var testToday = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

type fixture struct {
	co    *Coordinator
	store store.Store
	stub  *Stub
	bus   *events.Bus
	evch  chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	stub := NewStub()
	engine := recommend.NewEngine(recommend.Config{})
	co := NewCoordinator(st, stub, engine, bus, Config{
		Retry: RetryConfig{Attempts: 2, Backoff: time.Millisecond},
	})

	evch := make(chan events.Event, 64)
	bus.Subscribe("test", evch)

	f := &fixture{co: co, store: st, stub: stub, bus: bus, evch: evch}
	f.seed(t)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	v := &domain.Vehicle{
		ID:            "MH12AB1234",
		Make:          "Tata",
		Model:         "Prima",
		Powertrain:    "diesel",
		OwnerID:       "user-ramesh",
		NotifyChannel: domain.NotifyVoice,
	}
	if err := f.store.UpsertVehicle(v); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	if err := f.store.UpsertProfile(&domain.UserProfile{
		UserID:        "user-ramesh",
		Location:      &domain.GeoPoint{Lat: 28.4947, Lon: 77.0890},
		NotifyChannel: domain.NotifyVoice,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	slots := make([]domain.Slot, 0, 8)
	for day := 1; day <= 4; day++ {
		date := testToday.AddDate(0, 0, day).Format("2006-01-02")
		for _, band := range []string{"morning", "afternoon"} {
			slots = append(slots, domain.Slot{
				Date: date, Band: band, Status: domain.SlotAvailable,
			})
		}
	}
	if err := f.store.UpsertCenter(&domain.ServiceCenter{
		ID:              "svc-gurugram-01",
		Name:            "Gurugram Service Hub",
		Location:        domain.GeoPoint{Lat: 28.46, Lon: 77.03},
		RatingAvg:       4.5,
		Specializations: []string{"tata_commercial"},
		Emergency:       true,
		Active:          true,
		SlotsPerDay:     2,
		Slots:           slots,
	}); err != nil {
		t.Fatalf("seed center: %v", err)
	}
}

func (f *fixture) vehicle(t *testing.T) *domain.Vehicle {
	t.Helper()
	v, err := f.store.GetVehicle("MH12AB1234")
	if err != nil {
		t.Fatalf("GetVehicle: %v", err)
	}
	return v
}

// prediction persists a new dpf prediction event with the given eta.
func (f *fixture) prediction(t *testing.T, eta float64) *domain.PredictionEvent {
	t.Helper()
	ev := &domain.PredictionEvent{
		RowIndex:  2016,
		SimDay:    7,
		CreatedAt: testToday,
		Outcome: domain.PredictionOutcome{
			VehicleID:      "MH12AB1234",
			PredictionType: domain.PredictionDPF,
			Confidence:     0.87,
			EtaDays:        eta,
			Source:         "stub",
		},
	}
	id, err := f.store.SavePrediction(ev)
	if err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}
	ev.ID = id
	return ev
}

func (f *fixture) drainEvents() []events.Type {
	var types []events.Type
	for {
		select {
		case ev := <-f.evch:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func hasEvent(types []events.Type, want events.Type) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestHandlePredictionHealthy(t *testing.T) {
	f := newFixture(t)
	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 90), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.Disposition != DispositionHealthy || res.CaseID != "" {
		t.Errorf("result: %+v", res)
	}
	if c, _ := f.store.FindActiveCase("MH12AB1234", domain.PredictionDPF); c != nil {
		t.Errorf("healthy prediction opened case %s", c.ID)
	}
	if types := f.drainEvents(); !hasEvent(types, events.TypeHealthy) {
		t.Errorf("events: %v", types)
	}
}

func TestHandlePredictionFullPipeline(t *testing.T) {
	f := newFixture(t)
	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.Disposition != DispositionAlerted {
		t.Fatalf("disposition: %s", res.Disposition)
	}
	if res.Severity != domain.SeverityHigh {
		t.Errorf("severity: %s", res.Severity)
	}
	if res.State != domain.StateAwaitingUserApproval {
		t.Errorf("state: %s", res.State)
	}

	c, err := f.store.GetCase(res.CaseID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	for _, stage := range []string{StageSeverity, StageDiagnostic, StageRecommendation, StageMessage} {
		if _, ok := c.AgentResults[stage]; !ok {
			t.Errorf("missing agent result for %s", stage)
		}
	}
	var rec recommend.Recommendation
	if err := json.Unmarshal(c.AgentResults[StageRecommendation], &rec); err != nil {
		t.Fatalf("decode recommendation: %v", err)
	}
	if len(rec.Suggestions) == 0 {
		t.Error("no suggestions stored")
	}
	if types := f.drainEvents(); !hasEvent(types, events.TypeAlert) {
		t.Errorf("events: %v", types)
	}
}

func TestHandlePredictionDedup(t *testing.T) {
	f := newFixture(t)
	first, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("first prediction: %v", err)
	}
	f.drainEvents()

	second, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 9), f.vehicle(t))
	if err != nil {
		t.Fatalf("second prediction: %v", err)
	}
	if second.Disposition != DispositionCaseExists {
		t.Errorf("disposition: %s", second.Disposition)
	}
	if second.CaseID != first.CaseID {
		t.Errorf("case id: %s vs %s", second.CaseID, first.CaseID)
	}

	c, err := f.store.GetCase(first.CaseID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.Metadata.RelatedCount != 1 || len(c.RelatedPredictions) != 1 {
		t.Errorf("related predictions not attached: %+v", c.Metadata)
	}
	if types := f.drainEvents(); !hasEvent(types, events.TypeCaseExists) {
		t.Errorf("events: %v", types)
	}
}

func TestStageFailureFailsCase(t *testing.T) {
	f := newFixture(t)
	f.stub.SetError(StageDiagnostic, fmt.Errorf("backend down"))

	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.Disposition != DispositionFailed {
		t.Fatalf("disposition: %s", res.Disposition)
	}
	if res.State != domain.StateFailed {
		t.Errorf("state: %s", res.State)
	}
	if got := f.stub.Calls(StageDiagnostic); got != 2 {
		t.Errorf("diagnostic attempts: %d", got)
	}

	c, err := f.store.GetCase(res.CaseID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if c.Metadata.FailedStage != StageDiagnostic || c.Metadata.FailureReason == "" {
		t.Errorf("failure metadata: %+v", c.Metadata)
	}

	// A failed case is terminal, so the next alert opens a fresh one.
	f.drainEvents()
	next, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 8), f.vehicle(t))
	if err != nil {
		t.Fatalf("follow-up prediction: %v", err)
	}
	if next.Disposition == DispositionCaseExists || next.CaseID == res.CaseID {
		t.Errorf("failed case still blocks dedup: %+v", next)
	}
}

func TestInvalidStageOutputExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	f.stub.SetResponse(StageSeverity, json.RawMessage(`{"severity":"catastrophic"}`))

	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.Disposition != DispositionFailed {
		t.Errorf("disposition: %s", res.Disposition)
	}
	if got := f.stub.Calls(StageSeverity); got != 2 {
		t.Errorf("severity attempts: %d", got)
	}
	c, _ := f.store.GetCase(res.CaseID)
	if c.Metadata.FailedStage != StageSeverity {
		t.Errorf("failed stage: %s", c.Metadata.FailedStage)
	}
}

func TestMessageOnlyPlanRunsDiagnosticFirst(t *testing.T) {
	f := newFixture(t)
	plan := SeverityPlan{
		Severity:        domain.SeverityMedium,
		StagesToInvoke:  []string{StageMessage},
		CustomerContact: ContactDelayed,
		WorkflowType:    "predictive_maintenance",
	}
	raw, _ := json.Marshal(plan)
	f.stub.SetResponse(StageSeverity, raw)

	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 20), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.State != domain.StateCustomerNotified {
		t.Errorf("state: %s", res.State)
	}
	if got := f.stub.Calls(StageDiagnostic); got != 1 {
		t.Errorf("diagnostic calls: %d", got)
	}

	c, _ := f.store.GetCase(res.CaseID)
	if _, ok := c.AgentResults[StageRecommendation]; ok {
		t.Error("recommendation ran despite plan omitting it")
	}
	var msg MessagePlan
	if err := json.Unmarshal(c.AgentResults[StageMessage], &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Channel != "voice" {
		t.Errorf("channel should follow the owner's preference: %s", msg.Channel)
	}
}

func TestEmptyPlanProcessesQuietly(t *testing.T) {
	f := newFixture(t)
	plan := SeverityPlan{
		Severity:        domain.SeverityLow,
		CustomerContact: ContactNone,
		WorkflowType:    "predictive_maintenance",
	}
	raw, _ := json.Marshal(plan)
	f.stub.SetResponse(StageSeverity, raw)

	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 45), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if res.State != domain.StateProcessed {
		t.Errorf("state: %s", res.State)
	}
	if got := f.stub.Calls(StageDiagnostic); got != 0 {
		t.Errorf("diagnostic should not run: %d calls", got)
	}
}

func TestConfirmAppointment(t *testing.T) {
	f := newFixture(t)
	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	date := testToday.AddDate(0, 0, 2).Format("2006-01-02")

	if err := f.co.ConfirmAppointment(res.CaseID, "svc-gurugram-01", date, "morning"); err != nil {
		t.Fatalf("ConfirmAppointment: %v", err)
	}
	c, _ := f.store.GetCase(res.CaseID)
	if c.CurrentState != domain.StateAppointmentConfirmed {
		t.Errorf("state: %s", c.CurrentState)
	}

	center, _ := f.store.GetCenter("svc-gurugram-01")
	booked := false
	for _, s := range center.Slots {
		if s.Date == date && s.Band == "morning" {
			booked = s.Status == domain.SlotBooked && s.CaseID == res.CaseID
		}
	}
	if !booked {
		t.Error("slot not marked booked for the case")
	}

	// No longer awaiting approval, confirming again is an invalid transition.
	err = f.co.ConfirmAppointment(res.CaseID, "svc-gurugram-01", date, "afternoon")
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("double confirm: %v", err)
	}
}

func TestConfirmAppointmentSlotRace(t *testing.T) {
	f := newFixture(t)
	ev := f.prediction(t, 10)
	res, err := f.co.HandlePrediction(context.Background(), ev, f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	date := testToday.AddDate(0, 0, 2).Format("2006-01-02")

	// Another case grabbed the slot first.
	if err := f.store.ReserveSlot("svc-gurugram-01", date, "morning", "other-case", "HR55CD5678"); err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	err = f.co.ConfirmAppointment(res.CaseID, "svc-gurugram-01", date, "morning")
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("want ErrSlotUnavailable, got %v", err)
	}
	c, _ := f.store.GetCase(res.CaseID)
	if c.CurrentState != domain.StateAwaitingUserApproval {
		t.Errorf("case left state %s after losing the slot", c.CurrentState)
	}
}

func TestRejectRecommendation(t *testing.T) {
	f := newFixture(t)
	res, err := f.co.HandlePrediction(context.Background(), f.prediction(t, 10), f.vehicle(t))
	if err != nil {
		t.Fatalf("HandlePrediction: %v", err)
	}
	if err := f.co.RejectRecommendation(res.CaseID, "owner will self-schedule"); err != nil {
		t.Fatalf("RejectRecommendation: %v", err)
	}
	c, _ := f.store.GetCase(res.CaseID)
	if c.CurrentState != domain.StateCancelled {
		t.Errorf("state: %s", c.CurrentState)
	}
	if err := f.co.RejectRecommendation(res.CaseID, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("reject on cancelled case: %v", err)
	}
}
