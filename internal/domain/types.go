package domain

import "time"

// PredictionType is the overall classification returned by the inference
// service for one vehicle window.
type PredictionType string

const (
	PredictionHealthy   PredictionType = "healthy"
	PredictionCascade   PredictionType = "cascade_failure"
	PredictionSingle    PredictionType = "single_failure"
	PredictionDPF       PredictionType = "dpf_failure"
	PredictionSCR       PredictionType = "scr_failure"
	PredictionOil       PredictionType = "oil_failure"
	PredictionAnomalyML PredictionType = "anomaly_detection"
	PredictionAnomaly   PredictionType = "anomaly"
)

// Severity is the four-level classification assigned by the severity stage.
// SeverityUnknown is the initial value before the stage has run.
type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for the monotonic-promotion rule: a case severity,
// once concrete, is never demoted.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// NotifyChannel is the owner's preferred notification channel.
type NotifyChannel string

const (
	NotifyVoice NotifyChannel = "voice"
	NotifyApp   NotifyChannel = "app"
)

// GeoPoint is a longitude/latitude pair (GeoJSON ordering).
type GeoPoint struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// UsageProfile describes how a vehicle is driven day to day.
type UsageProfile struct {
	DailyKM     float64 `json:"daily_km" yaml:"daily_km"`
	LoadPattern string  `json:"load_pattern" yaml:"load_pattern"` // e.g. "light", "mixed", "heavy_haul"
}

// Vehicle is a registered fleet vehicle. Created by an external registration
// path; the control plane reads it but never mutates it.
type Vehicle struct {
	ID            string        `json:"vehicle_id" yaml:"vehicle_id"` // uppercase, stable
	Make          string        `json:"make" yaml:"make"`
	Model         string        `json:"model" yaml:"model"`
	Year          int           `json:"year" yaml:"year"`
	Powertrain    string        `json:"powertrain" yaml:"powertrain"` // "diesel", "ev", ...
	Usage         UsageProfile  `json:"usage" yaml:"usage"`
	OwnerID       string        `json:"owner_id" yaml:"owner_id"`
	OwnerName     string        `json:"owner_name" yaml:"owner_name"`
	OwnerPhone    string        `json:"owner_phone" yaml:"owner_phone"`
	NotifyChannel NotifyChannel `json:"notify_channel" yaml:"notify_channel"`
}

// IsEV reports whether the vehicle runs a battery-electric powertrain.
func (v *Vehicle) IsEV() bool {
	return v.Powertrain == "ev" || v.Powertrain == "electric"
}

// TelemetryRow is one sensor sample. Rows for a vehicle are dense from
// row index 0 and immutable after insertion.
type TelemetryRow struct {
	VehicleID string             `json:"vehicle_id"`
	RowIndex  int                `json:"row_index"`
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"` // keyed "<subsystem>.<channel>"
}

// SignalStat is a per-channel summary attached to a prediction: last value
// plus running aggregates over the scored window.
type SignalStat struct {
	Value float64 `json:"value"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
}

// ModelOutput is one subsystem model's result inside a prediction. RUL
// models fill RULDays/FailureProbability; the anomaly model fills
// AnomalyScore/IsAnomaly.
type ModelOutput struct {
	Status             string             `json:"status"` // "success" or "error"
	RULDays            *float64           `json:"rul_days,omitempty"`
	FailureProbability *float64           `json:"failure_probability,omitempty"`
	AnomalyScore       *float64           `json:"anomaly_score,omitempty"`
	IsAnomaly          *bool              `json:"is_anomaly,omitempty"`
	Details            map[string]float64 `json:"details,omitempty"`
	Error              string             `json:"error,omitempty"`
}

// ModelResult is one entry of the ordered per-model list the inference API
// returns alongside the keyed ModelOutputs map.
type ModelResult struct {
	Model string `json:"model"`
	ModelOutput
}

// PredictionOutcome is the typed result of one inference call. EtaDays is
// the minimum remaining-useful-life across subsystem models.
type PredictionOutcome struct {
	VehicleID         string                 `json:"vehicleId"`
	PredictionType    PredictionType         `json:"predictionType"`
	Confidence        float64                `json:"confidence"`
	EtaDays           float64                `json:"etaDays"`
	Signals           map[string]SignalStat  `json:"signals"`
	ModelOutputs      map[string]ModelOutput `json:"modelOutputs"`
	Source            string                 `json:"source"`
	IndividualResults []ModelResult          `json:"individualResults,omitempty"`
}

// PredictionEvent is a persisted PredictionOutcome plus bookkeeping fields
// assigned at record time.
type PredictionEvent struct {
	ID        int64             `json:"id"`
	RowIndex  int               `json:"row_index"`
	SimDay    int               `json:"sim_day"`
	CreatedAt time.Time         `json:"created_at"`
	Outcome   PredictionOutcome `json:"outcome"`
}

// SlotStatus is the reservation state of one capacity slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

// Slot is a reservable (date, time-band) unit of capacity at a service
// center. CaseID/VehicleID are set only while booked.
type Slot struct {
	Date      string     `json:"date" yaml:"date"` // calendar day, "2006-01-02", center-local
	Band      string     `json:"band" yaml:"band"` // "morning", "midday", "afternoon", "evening"
	Status    SlotStatus `json:"status" yaml:"status"`
	CaseID    string     `json:"case_id,omitempty" yaml:"case_id,omitempty"`
	VehicleID string     `json:"vehicle_id,omitempty" yaml:"vehicle_id,omitempty"`
}

// ServiceCenter is a workshop with geographic location, rating and embedded
// capacity slots. Long-lived and externally curated.
type ServiceCenter struct {
	ID              string            `json:"center_id" yaml:"center_id"`
	Name            string            `json:"name" yaml:"name"`
	Location        GeoPoint          `json:"location" yaml:"location"`
	RatingAvg       float64           `json:"rating_avg" yaml:"rating_avg"` // 0..5
	RatingCount     int               `json:"rating_count" yaml:"rating_count"`
	Specializations []string          `json:"specializations" yaml:"specializations"`
	Emergency       bool              `json:"emergency" yaml:"emergency"`
	Active          bool              `json:"active" yaml:"active"`
	Hours           map[string]string `json:"hours,omitempty" yaml:"hours,omitempty"` // weekday -> "08:00-18:00"
	SlotsPerDay     int               `json:"slots_per_day" yaml:"slots_per_day"`
	Slots           []Slot            `json:"slots" yaml:"slots"`
}

// AvailableOn counts available slots on the given date.
func (c *ServiceCenter) AvailableOn(date string) int {
	n := 0
	for i := range c.Slots {
		if c.Slots[i].Date == date && c.Slots[i].Status == SlotAvailable {
			n++
		}
	}
	return n
}

// UserProfile is the vehicle owner's profile: location for distance scoring
// plus scheduling preferences.
type UserProfile struct {
	UserID          string        `json:"user_id" yaml:"user_id"`
	Location        *GeoPoint     `json:"location,omitempty" yaml:"location,omitempty"`
	PreferredCenter string        `json:"preferred_center,omitempty" yaml:"preferred_center,omitempty"`
	NotifyChannel   NotifyChannel `json:"notify_channel,omitempty" yaml:"notify_channel,omitempty"`
}
