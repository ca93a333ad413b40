package scheduler

import (
	"testing"
	"time"

	"fleetwatch/internal/agents"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/events"
	"fleetwatch/internal/inference"
	"fleetwatch/internal/queue"
	"fleetwatch/internal/recommend"
	"fleetwatch/internal/store"
	"fleetwatch/internal/telemetry"
)

// testConfig shrinks the clock so a full run takes tens of milliseconds.
func testConfig() Config {
	return Config{
		TickInterval:         10 * time.Millisecond,
		TickRows:             10,
		PredictionInterval:   10,
		MaxRows:              30,
		MinRowsForPrediction: 10,
	}
}

type harness struct {
	s     *Scheduler
	store store.Store
	inf   *inference.Stub
	bus   *events.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemStore()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	inf := inference.NewStub()
	engine := recommend.NewEngine(recommend.Config{})
	co := agents.NewCoordinator(st, agents.NewStub(), engine, bus, agents.Config{
		Retry: agents.RetryConfig{Attempts: 2, Backoff: time.Millisecond},
	})

	deps := Deps{
		Store:       st,
		Reader:      telemetry.NewReader(st),
		Inference:   inf,
		Coordinator: co,
		Bus:         bus,
		NewQueue: func(p queue.Processor) queue.WorkQueue {
			return queue.NewPool(p, queue.Config{
				Concurrency: 2,
				MaxJobs:     1000,
				Window:      time.Second,
				Attempts:    1,
				Backoff:     time.Millisecond,
			}, nil)
		},
	}
	s := New(deps, testConfig())
	t.Cleanup(func() { s.Close() })
	return &harness{s: s, store: st, inf: inf, bus: bus}
}

// seedVehicle inserts a vehicle with rows dense telemetry rows.
func (h *harness) seedVehicle(t *testing.T, id string, rows int) {
	t.Helper()
	if err := h.store.UpsertVehicle(&domain.Vehicle{
		ID: id, Make: "Tata", Model: "Prima", Powertrain: "diesel",
	}); err != nil {
		t.Fatalf("seed vehicle %s: %v", id, err)
	}
	batch := make([]domain.TelemetryRow, rows)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		batch[i] = domain.TelemetryRow{
			VehicleID: id,
			RowIndex:  i,
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Sensors:   map[string]float64{"engine.oil_pressure": 3.2},
		}
	}
	if err := h.store.InsertTelemetry(batch); err != nil {
		t.Fatalf("seed telemetry %s: %v", id, err)
	}
}

// seedCenter gives the recommendation stage capacity near "now".
func (h *harness) seedCenter(t *testing.T) {
	t.Helper()
	var slots []domain.Slot
	for day := 1; day <= 4; day++ {
		date := time.Now().UTC().AddDate(0, 0, day).Format("2006-01-02")
		slots = append(slots, domain.Slot{
			Date: date, Band: "morning", Status: domain.SlotAvailable,
		})
	}
	if err := h.store.UpsertCenter(&domain.ServiceCenter{
		ID: "svc-test-01", Name: "Test Center",
		Location:        domain.GeoPoint{Lat: 28.46, Lon: 77.03},
		RatingAvg:       4.2,
		Specializations: []string{"general"},
		Active:          true,
		SlotsPerDay:     1,
		Slots:           slots,
	}); err != nil {
		t.Fatalf("seed center: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSchedulerRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.seedCenter(t)
	h.seedVehicle(t, "VH-HEALTHY", 30)
	h.seedVehicle(t, "VH-ALERT", 30)
	h.inf.SetOutcome("VH-ALERT", &domain.PredictionOutcome{
		PredictionType: domain.PredictionDPF,
		Confidence:     0.85,
		EtaDays:        10,
		Source:         "stub",
	})

	if err := h.s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "simulation end", func() bool {
		return !h.s.Snapshot().Running
	})

	snap := h.s.Snapshot()
	if snap.CurrentRowIndex != 30 {
		t.Errorf("cursor: %d", snap.CurrentRowIndex)
	}
	if snap.TickCount != 3 {
		t.Errorf("ticks: %d", snap.TickCount)
	}
	if snap.SimDay != 3 || snap.SimDayTotal != 3 {
		t.Errorf("sim day: %d/%d", snap.SimDay, snap.SimDayTotal)
	}

	healthy := snap.Vehicles["VH-HEALTHY"]
	if healthy.Status != StatusHealthy || healthy.LastEtaDays != 90 {
		t.Errorf("healthy vehicle state: %+v", healthy)
	}
	alert := snap.Vehicles["VH-ALERT"]
	if alert.Status != StatusAlert || alert.LastCaseID == "" {
		t.Errorf("alert vehicle state: %+v", alert)
	}

	// One case for the alert vehicle, repeated predictions attached to it.
	c, err := h.store.FindActiveCase("VH-ALERT", domain.PredictionDPF)
	if err != nil || c == nil {
		t.Fatalf("FindActiveCase: c=%v err=%v", c, err)
	}
	if c.CurrentState != domain.StateAwaitingUserApproval {
		t.Errorf("case state: %s", c.CurrentState)
	}
	if c.Metadata.RelatedCount != 2 {
		t.Errorf("related predictions: %d", c.Metadata.RelatedCount)
	}

	// Each vehicle was scored once per prediction interval: rows 10, 20, 30.
	preds, err := h.store.ListPredictionsByVehicle("VH-ALERT", 0)
	if err != nil {
		t.Fatalf("ListPredictionsByVehicle: %v", err)
	}
	if len(preds) != 3 {
		t.Errorf("predictions: %d", len(preds))
	}
}

func TestSchedulerSkipsShortWindows(t *testing.T) {
	h := newHarness(t)
	h.seedVehicle(t, "VH-SPARSE", 5) // below the minimum window

	if err := h.s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "simulation end", func() bool {
		return !h.s.Snapshot().Running
	})

	snap := h.s.Snapshot()
	vs := snap.Vehicles["VH-SPARSE"]
	if vs.Status != StatusMonitoring {
		t.Errorf("sparse vehicle status: %s", vs.Status)
	}
	if snap.Queue.Skipped == 0 {
		t.Errorf("no jobs skipped: %+v", snap.Queue)
	}
	if n, _ := h.store.ListPredictionsByVehicle("VH-SPARSE", 0); len(n) != 0 {
		t.Errorf("sparse vehicle got %d predictions", len(n))
	}
}

func TestSchedulerStartFromDay(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if row := h.s.Snapshot().CurrentRowIndex; row != 20 {
		t.Errorf("start row: %d", row)
	}
	if err := h.s.Start(0); err == nil {
		t.Error("second Start accepted while running")
	}
	h.s.Stop()
	if h.s.Snapshot().Running {
		t.Error("still running after Stop")
	}
}

func TestSchedulerStartDayClamped(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(99); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if row := h.s.Snapshot().CurrentRowIndex; row != 30 {
		t.Errorf("clamped row: %d", row)
	}
	h.s.Stop()
}

func TestSchedulerStopCancelsInFlight(t *testing.T) {
	h := newHarness(t)
	h.seedVehicle(t, "VH-SLOW-A", 30)
	h.seedVehicle(t, "VH-SLOW-B", 30)
	h.inf.Delay = time.Minute // wedge every inference call

	evch := make(chan events.Event, 256)
	h.bus.Subscribe("test", evch)

	if err := h.s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "jobs in flight", func() bool {
		return h.s.Snapshot().Queue.Active > 0
	})

	start := time.Now()
	h.s.Stop()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Stop took %s with inference wedged", elapsed)
	}

	snap := h.s.Snapshot()
	if snap.Running {
		t.Error("still running after Stop")
	}
	if snap.Queue.Active != 0 || snap.Queue.Waiting != 0 {
		t.Errorf("queue not drained: %+v", snap.Queue)
	}
	if snap.Queue.Cancelled == 0 {
		t.Errorf("no jobs cancelled: %+v", snap.Queue)
	}
	if snap.Queue.Completed != 0 {
		t.Errorf("wedged jobs reported complete: %+v", snap.Queue)
	}

	// The clock stays stopped: no tick fires after Stop returns.
	for len(evch) > 0 {
		<-evch
	}
	time.Sleep(5 * testConfig().TickInterval)
	for len(evch) > 0 {
		if ev := <-evch; ev.Type == events.TypeTick {
			t.Errorf("tick after Stop: %+v", ev)
		}
	}
}

func TestSchedulerReset(t *testing.T) {
	h := newHarness(t)
	h.seedVehicle(t, "VH-HEALTHY", 30)

	if err := h.s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "first prediction", func() bool {
		return len(h.s.Snapshot().Vehicles) > 0
	})
	h.s.Reset()

	snap := h.s.Snapshot()
	if snap.Running || snap.TickCount != 0 || snap.CurrentRowIndex != 0 {
		t.Errorf("snapshot after reset: %+v", snap)
	}
	if len(snap.Vehicles) != 0 {
		t.Errorf("vehicle state survived reset: %+v", snap.Vehicles)
	}

	// Persisted data is untouched and the scheduler restarts cleanly.
	if n, err := h.store.TelemetryCount("VH-HEALTHY"); err != nil || n != 30 {
		t.Errorf("telemetry after reset: n=%d err=%v", n, err)
	}
	if err := h.s.Start(0); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.s.Stop()
}

func TestSchedulerPublishesTickEvents(t *testing.T) {
	h := newHarness(t)
	h.seedVehicle(t, "VH-HEALTHY", 30)
	evch := make(chan events.Event, 256)
	h.bus.Subscribe("test", evch)

	if err := h.s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, "simulation end", func() bool {
		return !h.s.Snapshot().Running
	})

	counts := map[events.Type]int{}
drain:
	for {
		select {
		case ev := <-evch:
			counts[ev.Type]++
		default:
			break drain
		}
	}
	if counts[events.TypeTick] != 3 || counts[events.TypeTickSummary] != 3 {
		t.Errorf("tick events: %+v", counts)
	}
	if counts[events.TypePrediction] == 0 {
		t.Errorf("no prediction events: %+v", counts)
	}
	if counts[events.TypeState] == 0 {
		t.Errorf("no state events: %+v", counts)
	}
}

func TestStateTableDue(t *testing.T) {
	tbl := newStateTable()
	if tbl.due("VH", 5, 10, 10) {
		t.Error("due below the minimum window")
	}
	if !tbl.due("VH", 10, 10, 10) {
		t.Error("not due at the first eligible row")
	}
	tbl.markScheduled("VH", 10)
	if tbl.due("VH", 15, 10, 10) {
		t.Error("due before the interval elapsed")
	}
	if !tbl.due("VH", 20, 10, 10) {
		t.Error("not due after a full interval")
	}
}
