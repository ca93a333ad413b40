package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fleetwatch/internal/domain"
)

// each suite runs against both implementations.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemStore())
	})
	t.Run("sql", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func testVehicle() *domain.Vehicle {
	return &domain.Vehicle{
		ID:            "MH12AB1234",
		Make:          "Tata",
		Model:         "Prima 2830.K",
		Year:          2021,
		Powertrain:    "diesel",
		Usage:         domain.UsageProfile{DailyKM: 420, LoadPattern: "heavy_haul"},
		OwnerID:       "user-ramesh",
		OwnerName:     "Ramesh Yadav",
		NotifyChannel: domain.NotifyVoice,
	}
}

func TestVehicleRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		want := testVehicle()
		if err := s.UpsertVehicle(want); err != nil {
			t.Fatalf("UpsertVehicle: %v", err)
		}
		got, err := s.GetVehicle("mh12ab1234") // lookups are case-insensitive
		if err != nil {
			t.Fatalf("GetVehicle: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("vehicle mismatch (-want +got):\n%s", diff)
		}

		if _, err := s.GetVehicle("XX00XX0000"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing vehicle: got %v want ErrNotFound", err)
		}

		list, err := s.ListVehicles()
		if err != nil || len(list) != 1 {
			t.Errorf("ListVehicles: got %d err %v", len(list), err)
		}
	})
}

func TestTelemetryDensePrefix(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		rows := []domain.TelemetryRow{
			{VehicleID: "MH12AB1234", RowIndex: 0, Timestamp: base, Sensors: map[string]float64{"engine.rpm": 1500}},
			{VehicleID: "MH12AB1234", RowIndex: 1, Timestamp: base.Add(5 * time.Minute), Sensors: map[string]float64{"engine.rpm": 1600}},
		}
		if err := s.InsertTelemetry(rows); err != nil {
			t.Fatalf("InsertTelemetry: %v", err)
		}

		gap := []domain.TelemetryRow{
			{VehicleID: "MH12AB1234", RowIndex: 5, Timestamp: base.Add(time.Hour), Sensors: map[string]float64{"engine.rpm": 900}},
		}
		if err := s.InsertTelemetry(gap); err == nil {
			t.Error("gap insert accepted, want dense-prefix error")
		}

		got, err := s.TelemetryUpTo("MH12AB1234", 10)
		if err != nil {
			t.Fatalf("TelemetryUpTo: %v", err)
		}
		if len(got) != 2 || got[0].RowIndex != 0 || got[1].RowIndex != 1 {
			t.Errorf("TelemetryUpTo: got %d rows %+v", len(got), got)
		}
		if got[1].Sensors["engine.rpm"] != 1600 {
			t.Errorf("sensor value: got %v", got[1].Sensors["engine.rpm"])
		}

		partial, err := s.TelemetryUpTo("MH12AB1234", 0)
		if err != nil || len(partial) != 1 {
			t.Errorf("TelemetryUpTo(0): got %d rows err %v", len(partial), err)
		}

		n, err := s.TelemetryCount("MH12AB1234")
		if err != nil || n != 2 {
			t.Errorf("TelemetryCount: got %d err %v", n, err)
		}
	})
}

func TestPredictionRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		rul := 12.0
		ev := &domain.PredictionEvent{
			RowIndex: 2016,
			SimDay:   7,
			Outcome: domain.PredictionOutcome{
				VehicleID:      "MH12AB1234",
				PredictionType: domain.PredictionDPF,
				Confidence:     0.87,
				EtaDays:        12,
				Signals:        map[string]domain.SignalStat{"dpf.soot_load": {Value: 78.4, Mean: 52.1, Max: 81.2, Min: 31.0}},
				ModelOutputs:   map[string]domain.ModelOutput{"dpf": {Status: "success", RULDays: &rul}},
				Source:         "ml",
			},
		}
		id, err := s.SavePrediction(ev)
		if err != nil || id == 0 {
			t.Fatalf("SavePrediction: id=%d err=%v", id, err)
		}
		got, err := s.GetPrediction(id)
		if err != nil {
			t.Fatalf("GetPrediction: %v", err)
		}
		if diff := cmp.Diff(ev.Outcome, got.Outcome); diff != "" {
			t.Errorf("outcome mismatch (-want +got):\n%s", diff)
		}
		if got.RowIndex != 2016 || got.SimDay != 7 || got.CreatedAt.IsZero() {
			t.Errorf("bookkeeping: %+v", got)
		}

		list, err := s.ListPredictionsByVehicle("MH12AB1234", 10)
		if err != nil || len(list) != 1 {
			t.Errorf("ListPredictionsByVehicle: got %d err %v", len(list), err)
		}
	})
}

func newTestCase(id string) *domain.Case {
	return &domain.Case{
		ID:           id,
		VehicleID:    "MH12AB1234",
		PredictionID: 1,
		CurrentState: domain.StateReceived,
		Metadata: domain.CaseMetadata{
			PredictionType: domain.PredictionDPF,
			EtaDays:        12,
			Confidence:     0.87,
			SimDay:         7,
		},
	}
}

func TestCaseLifecycle(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		c := newTestCase("case-1")
		if err := s.CreateCase(c); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
		if err := s.CreateCase(newTestCase("case-1")); !errors.Is(err, ErrConflict) {
			t.Errorf("duplicate create: got %v want ErrConflict", err)
		}

		got, err := s.GetCase("case-1")
		if err != nil {
			t.Fatalf("GetCase: %v", err)
		}
		if got.CurrentState != domain.StateReceived || got.Severity != domain.SeverityUnknown {
			t.Errorf("initial case: %+v", got)
		}
		if len(got.History) != 1 || got.History[0].State != domain.StateReceived {
			t.Errorf("initial history: %+v", got.History)
		}

		if err := s.TransitionCase("case-1", domain.StateOrchestrating, "pipeline started"); err != nil {
			t.Fatalf("TransitionCase: %v", err)
		}
		if err := s.TransitionCase("case-1", domain.StateInService, "nope"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("illegal transition: got %v want ErrInvalidTransition", err)
		}

		if err := s.SetCaseSeverity("case-1", domain.SeverityHigh); err != nil {
			t.Fatalf("SetCaseSeverity: %v", err)
		}
		// Demotion is a silent no-op.
		if err := s.SetCaseSeverity("case-1", domain.SeverityLow); err != nil {
			t.Fatalf("SetCaseSeverity demote: %v", err)
		}
		got, _ = s.GetCase("case-1")
		if got.Severity != domain.SeverityHigh {
			t.Errorf("severity after demotion attempt: got %s want high", got.Severity)
		}

		raw := json.RawMessage(`{"severity":"high"}`)
		if err := s.SetAgentResult("case-1", "severity", raw); err != nil {
			t.Fatalf("SetAgentResult: %v", err)
		}
		got, _ = s.GetCase("case-1")
		if string(got.AgentResults["severity"]) != string(raw) {
			t.Errorf("agent result: got %s", got.AgentResults["severity"])
		}

		// History tail always matches the current state.
		if got.History[len(got.History)-1].State != got.CurrentState {
			t.Errorf("history tail %s != current %s", got.History[len(got.History)-1].State, got.CurrentState)
		}
	})
}

func TestFindActiveCaseDedup(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		if c, err := s.FindActiveCase("MH12AB1234", domain.PredictionDPF); err != nil || c != nil {
			t.Fatalf("empty store: got %+v err %v", c, err)
		}

		if err := s.CreateCase(newTestCase("case-1")); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
		found, err := s.FindActiveCase("MH12AB1234", domain.PredictionDPF)
		if err != nil || found == nil || found.ID != "case-1" {
			t.Fatalf("FindActiveCase: got %+v err %v", found, err)
		}
		// Different prediction type does not match.
		if c, _ := s.FindActiveCase("MH12AB1234", domain.PredictionOil); c != nil {
			t.Errorf("type mismatch matched: %+v", c)
		}

		if err := s.AttachPrediction("case-1", 77); err != nil {
			t.Fatalf("AttachPrediction: %v", err)
		}
		got, _ := s.GetCase("case-1")
		if len(got.RelatedPredictions) != 1 || got.RelatedPredictions[0] != 77 {
			t.Errorf("related predictions: %+v", got.RelatedPredictions)
		}
		if got.Metadata.RelatedCount != 1 {
			t.Errorf("related count: %d", got.Metadata.RelatedCount)
		}

		// A failed case no longer blocks new ones.
		if err := s.FailCase("case-1", "diagnostic", "backend unreachable"); err != nil {
			t.Fatalf("FailCase: %v", err)
		}
		got, _ = s.GetCase("case-1")
		if got.CurrentState != domain.StateFailed || got.Metadata.FailedStage != "diagnostic" {
			t.Errorf("failed case: %+v", got)
		}
		if c, _ := s.FindActiveCase("MH12AB1234", domain.PredictionDPF); c != nil {
			t.Errorf("terminal case still active: %+v", c)
		}
	})
}

func centerWithSlot(id string, loc domain.GeoPoint) *domain.ServiceCenter {
	return &domain.ServiceCenter{
		ID:              id,
		Name:            "Center " + id,
		Location:        loc,
		RatingAvg:       4.2,
		Specializations: []string{"tata", "general"},
		Active:          true,
		SlotsPerDay:     4,
		// Band order matches the SQL store's date+band read order.
		Slots: []domain.Slot{
			{Date: "2026-09-01", Band: "midday", Status: domain.SlotAvailable},
			{Date: "2026-09-01", Band: "morning", Status: domain.SlotAvailable},
		},
	}
}

func TestCentersAndSlots(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		near := centerWithSlot("svc-a", domain.GeoPoint{Lon: 77.03, Lat: 28.46})
		far := centerWithSlot("svc-b", domain.GeoPoint{Lon: 75.79, Lat: 26.91})
		for _, c := range []*domain.ServiceCenter{near, far} {
			if err := s.UpsertCenter(c); err != nil {
				t.Fatalf("UpsertCenter %s: %v", c.ID, err)
			}
		}

		got, err := s.GetCenter("svc-a")
		if err != nil {
			t.Fatalf("GetCenter: %v", err)
		}
		if diff := cmp.Diff(near, got); diff != "" {
			t.Errorf("center mismatch (-want +got):\n%s", diff)
		}

		owner := domain.GeoPoint{Lon: 77.0890, Lat: 28.4947}
		hits, err := s.NearestCenters(owner, 150, 10)
		if err != nil {
			t.Fatalf("NearestCenters: %v", err)
		}
		if len(hits) != 1 || hits[0].ID != "svc-a" {
			t.Errorf("NearestCenters(150km): got %d %+v", len(hits), hits)
		}
		hits, _ = s.NearestCenters(owner, 400, 10)
		if len(hits) != 2 || hits[0].ID != "svc-a" {
			t.Errorf("NearestCenters(400km) order: got %+v", hits)
		}

		if err := s.ReserveSlot("svc-a", "2026-09-01", "morning", "case-1", "MH12AB1234"); err != nil {
			t.Fatalf("ReserveSlot: %v", err)
		}
		// Same slot again loses the compare-and-set.
		if err := s.ReserveSlot("svc-a", "2026-09-01", "morning", "case-2", "HR55CD5678"); !errors.Is(err, ErrSlotTaken) {
			t.Errorf("double reserve: got %v want ErrSlotTaken", err)
		}
		got, _ = s.GetCenter("svc-a")
		if got.AvailableOn("2026-09-01") != 1 {
			t.Errorf("available after booking: %d want 1", got.AvailableOn("2026-09-01"))
		}
		for _, sl := range got.Slots {
			if sl.Band == "morning" && (sl.Status != domain.SlotBooked || sl.CaseID != "case-1") {
				t.Errorf("booked slot: %+v", sl)
			}
		}

		if err := s.ReleaseSlot("svc-a", "2026-09-01", "morning"); err != nil {
			t.Fatalf("ReleaseSlot: %v", err)
		}
		got, _ = s.GetCenter("svc-a")
		if got.AvailableOn("2026-09-01") != 2 {
			t.Errorf("available after release: %d want 2", got.AvailableOn("2026-09-01"))
		}
	})
}

func TestProfileRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		want := &domain.UserProfile{
			UserID:          "user-ramesh",
			Location:        &domain.GeoPoint{Lon: 77.0890, Lat: 28.4947},
			PreferredCenter: "svc-gurugram-01",
			NotifyChannel:   domain.NotifyVoice,
		}
		if err := s.UpsertProfile(want); err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
		got, err := s.GetProfile("user-ramesh")
		if err != nil {
			t.Fatalf("GetProfile: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("profile mismatch (-want +got):\n%s", diff)
		}
		if _, err := s.GetProfile("nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing profile: got %v", err)
		}
	})
}

func TestCaseStatsByState(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		for i, id := range []string{"c1", "c2", "c3"} {
			c := newTestCase(id)
			if i == 2 {
				c.VehicleID = "HR55CD5678"
			}
			if err := s.CreateCase(c); err != nil {
				t.Fatalf("CreateCase %s: %v", id, err)
			}
		}
		if err := s.TransitionCase("c1", domain.StateOrchestrating, ""); err != nil {
			t.Fatalf("TransitionCase: %v", err)
		}
		stats, err := s.CaseStatsByState()
		if err != nil {
			t.Fatalf("CaseStatsByState: %v", err)
		}
		if stats[domain.StateReceived] != 2 || stats[domain.StateOrchestrating] != 1 {
			t.Errorf("stats: %+v", stats)
		}
	})
}
