package events

import "fleetwatch/internal/domain"

// TickPayload is emitted at the start of each tick.
type TickPayload struct {
	TickCount       int `json:"tickCount"`
	CurrentRowIndex int `json:"currentRowIndex"`
	MaxRows         int `json:"maxRows"`
	SimDay          int `json:"simDay"`
	SimDayTotal     int `json:"simDayTotal"`
}

// TickSummaryPayload is emitted after a tick's jobs have all terminated.
type TickSummaryPayload struct {
	TickCount      int `json:"tickCount"`
	SimDay         int `json:"simDay"`
	VehiclesQueued int `json:"vehiclesQueued"`
}

// PredictionPayload is emitted after a prediction event is persisted.
type PredictionPayload struct {
	VehicleID      string                `json:"vehicleId"`
	PredictionType domain.PredictionType `json:"predictionType"`
	EtaDays        float64               `json:"etaDays"`
	Confidence     float64               `json:"confidence"`
	RowIndex       int                   `json:"rowIndex"`
	SimDay         int                   `json:"simDay"`
}

// HealthyPayload is emitted when the health gate passes a vehicle.
type HealthyPayload struct {
	VehicleID      string                `json:"vehicleId"`
	EtaDays        float64               `json:"etaDays"`
	PredictionType domain.PredictionType `json:"predictionType"`
}

// AlertPayload is emitted after the case pipeline finishes for a vehicle.
type AlertPayload struct {
	VehicleID      string                `json:"vehicleId"`
	CaseID         string                `json:"caseId"`
	Severity       domain.Severity       `json:"severity"`
	PredictionType domain.PredictionType `json:"predictionType"`
	EtaDays        float64               `json:"etaDays"`
	Confidence     float64               `json:"confidence"`
	State          domain.CaseState      `json:"state"`
}

// CaseExistsPayload is emitted when the dedup gate attaches a prediction to
// an already-active case instead of opening a new one.
type CaseExistsPayload struct {
	VehicleID      string                `json:"vehicleId"`
	CaseID         string                `json:"caseId"`
	PredictionType domain.PredictionType `json:"predictionType"`
}
