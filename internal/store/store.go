package store

import (
	"encoding/json"
	"errors"

	"fleetwatch/internal/domain"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent dir (e.g. .fleetwatch).
const DefaultDBPath = ".fleetwatch/fleetwatch.db"

var (
	// ErrNotFound is returned when a looked-up entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on duplicate creation (same caseId).
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned when a case state change is not in
	// the legal-transition table. Callers treat it as a programming error.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrSlotTaken is returned when a slot reservation loses the
	// compare-and-set on (centerId, date, band, status=available).
	ErrSlotTaken = errors.New("slot not available")
)

// Store is the persistence facade for the control plane: vehicles, telemetry,
// prediction events, cases, service centers and user profiles. Domain and CLI
// use only this interface; the implementation is SQLite or in-memory.
type Store interface {
	// Vehicles (externally curated, read-mostly)
	UpsertVehicle(v *domain.Vehicle) error
	GetVehicle(id string) (*domain.Vehicle, error)
	ListVehicles() ([]*domain.Vehicle, error)

	// Telemetry (append-only, dense row index per vehicle)
	InsertTelemetry(rows []domain.TelemetryRow) error
	TelemetryUpTo(vehicleID string, maxRowIndex int) ([]domain.TelemetryRow, error)
	TelemetryCount(vehicleID string) (int, error)

	// Prediction events (append-only)
	SavePrediction(ev *domain.PredictionEvent) (int64, error)
	GetPrediction(id int64) (*domain.PredictionEvent, error)
	ListPredictionsByVehicle(vehicleID string, limit int) ([]*domain.PredictionEvent, error)

	// Cases
	CreateCase(c *domain.Case) error
	GetCase(caseID string) (*domain.Case, error)
	FindActiveCase(vehicleID string, pt domain.PredictionType) (*domain.Case, error)
	TransitionCase(caseID string, next domain.CaseState, note string) error
	SetCaseSeverity(caseID string, sev domain.Severity) error
	SetAgentResult(caseID, stage string, result json.RawMessage) error
	AttachPrediction(caseID string, predictionID int64) error
	FailCase(caseID, stage, reason string) error
	CaseStatsByState() (map[domain.CaseState]int, error)
	ListCases(limit int) ([]*domain.Case, error)

	// Service centers and capacity slots
	UpsertCenter(c *domain.ServiceCenter) error
	GetCenter(centerID string) (*domain.ServiceCenter, error)
	ListActiveCenters(limit int) ([]*domain.ServiceCenter, error)
	NearestCenters(loc domain.GeoPoint, radiusKM float64, limit int) ([]*domain.ServiceCenter, error)
	ReserveSlot(centerID, date, band, caseID, vehicleID string) error
	ReleaseSlot(centerID, date, band string) error

	// User profiles
	UpsertProfile(p *domain.UserProfile) error
	GetProfile(userID string) (*domain.UserProfile, error)

	Close() error
}
