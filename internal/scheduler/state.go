package scheduler

import (
	"sync"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/queue"
)

// Vehicle monitoring statuses derived from the latest pipeline result.
const (
	StatusMonitoring = "monitoring" // no prediction yet, or none recent
	StatusHealthy    = "healthy"
	StatusAlert      = "alert"
)

// VehicleState is the scheduler's per-vehicle view of the latest scored
// prediction and its pipeline outcome.
type VehicleState struct {
	VehicleID         string                `json:"vehicleId"`
	Status            string                `json:"status"`
	LastPredictionRow int                   `json:"lastPredictionRow"`
	LastType          domain.PredictionType `json:"lastType,omitempty"`
	LastEtaDays       float64               `json:"lastEtaDays,omitempty"`
	LastCaseID        string                `json:"lastCaseId,omitempty"`
	LastCaseState     domain.CaseState      `json:"lastCaseState,omitempty"`
}

// Snapshot is the full simulation state pushed to new stream subscribers
// and on demand.
type Snapshot struct {
	Running         bool                    `json:"running"`
	TickCount       int                     `json:"tickCount"`
	CurrentRowIndex int                     `json:"currentRowIndex"`
	MaxRows         int                     `json:"maxRows"`
	SimDay          int                     `json:"simDay"`
	SimDayTotal     int                     `json:"simDayTotal"`
	Vehicles        map[string]VehicleState `json:"vehicles"`
	Queue           queue.Counters          `json:"queue"`
}

// stateTable tracks per-vehicle state under its own lock so job goroutines
// can update it while the tick loop reads.
type stateTable struct {
	mu       sync.Mutex
	vehicles map[string]*VehicleState
}

func newStateTable() *stateTable {
	return &stateTable{vehicles: make(map[string]*VehicleState)}
}

func (t *stateTable) getLocked(vehicleID string) *VehicleState {
	vs, ok := t.vehicles[vehicleID]
	if !ok {
		vs = &VehicleState{VehicleID: vehicleID, Status: StatusMonitoring, LastPredictionRow: -1}
		t.vehicles[vehicleID] = vs
	}
	return vs
}

// markScheduled advances lastPredictionRow before the job runs. The update
// is optimistic: a failed or skipped job does not roll it back, so one bad
// window never causes a tight retry loop across ticks.
func (t *stateTable) markScheduled(vehicleID string, rowIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getLocked(vehicleID).LastPredictionRow = rowIndex
}

// due reports whether the vehicle should be scored at rowIndex.
func (t *stateTable) due(vehicleID string, rowIndex, minRows, interval int) bool {
	if rowIndex < minRows {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	vs := t.getLocked(vehicleID)
	return vs.LastPredictionRow < 0 || rowIndex-vs.LastPredictionRow >= interval
}

func (t *stateTable) recordOutcome(vehicleID, status string, pt domain.PredictionType, etaDays float64, caseID string, caseState domain.CaseState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vs := t.getLocked(vehicleID)
	vs.Status = status
	vs.LastType = pt
	vs.LastEtaDays = etaDays
	if caseID != "" {
		vs.LastCaseID = caseID
		vs.LastCaseState = caseState
	}
}

func (t *stateTable) snapshot() map[string]VehicleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]VehicleState, len(t.vehicles))
	for id, vs := range t.vehicles {
		out[id] = *vs
	}
	return out
}

func (t *stateTable) reset() {
	t.mu.Lock()
	t.vehicles = make(map[string]*VehicleState)
	t.mu.Unlock()
}
