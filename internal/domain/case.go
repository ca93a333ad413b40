package domain

import (
	"encoding/json"
	"time"
)

// CaseState is the lifecycle state of a maintenance case.
type CaseState string

const (
	StateReceived             CaseState = "RECEIVED"
	StateOrchestrating        CaseState = "ORCHESTRATING"
	StateAwaitingUserApproval CaseState = "AWAITING_USER_APPROVAL"
	StateAppointmentConfirmed CaseState = "APPOINTMENT_CONFIRMED"
	StateCustomerNotified     CaseState = "CUSTOMER_NOTIFIED"
	StateProcessed            CaseState = "PROCESSED"
	StateInService            CaseState = "IN_SERVICE"
	StateCompleted            CaseState = "COMPLETED"
	StateFailed               CaseState = "FAILED"
	StateCancelled            CaseState = "CANCELLED"
)

// legalTransitions maps each state to the states it may move to.
// FAILED is reachable from everywhere and handled in CanTransition.
var legalTransitions = map[CaseState][]CaseState{
	StateReceived:             {StateOrchestrating},
	StateOrchestrating:        {StateAwaitingUserApproval, StateCustomerNotified, StateProcessed},
	StateAwaitingUserApproval: {StateAppointmentConfirmed, StateCancelled},
	StateAppointmentConfirmed: {StateInService},
	StateInService:            {StateCompleted},
}

// IsTerminal reports whether no further transitions are allowed.
func (s CaseState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether moving from s to next is legal.
func (s CaseState) CanTransition(next CaseState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// HistoryEntry logs one completed state transition.
type HistoryEntry struct {
	State     CaseState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// CaseMetadata carries timing, classification and error bookkeeping for a case.
type CaseMetadata struct {
	PredictionType PredictionType `json:"prediction_type"`
	EtaDays        float64        `json:"eta_days"`
	Confidence     float64        `json:"confidence"`
	SimDay         int            `json:"sim_day"`
	FailedStage    string         `json:"failed_stage,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	RelatedCount   int            `json:"related_count"`
}

// Case is one maintenance case, opened when a prediction crosses the health
// threshold and routed through the agent pipeline. CurrentState always equals
// the state of the last history entry.
type Case struct {
	ID           string                     `json:"case_id"`
	VehicleID    string                     `json:"vehicle_id"`
	PredictionID int64                      `json:"prediction_id"`
	CurrentState CaseState                  `json:"current_state"`
	Severity     Severity                   `json:"severity"`
	AgentResults map[string]json.RawMessage `json:"agent_results,omitempty"` // keyed by stage name
	Metadata     CaseMetadata               `json:"metadata"`
	History      []HistoryEntry             `json:"history"`
	// RelatedPredictions holds prediction event IDs attached by the dedup
	// gate after the case was opened.
	RelatedPredictions []int64   `json:"related_predictions,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
