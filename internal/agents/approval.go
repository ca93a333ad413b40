package agents

import (
	"errors"
	"fmt"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/store"
)

// ErrSlotUnavailable reports that the chosen slot was taken between
// recommendation and confirmation.
var ErrSlotUnavailable = errors.New("selected slot no longer available")

// ConfirmAppointment reserves the chosen slot and advances the case to
// APPOINTMENT_CONFIRMED. Reservation is a compare-and-set on the slot, so
// two cases racing for the same slot leave exactly one confirmed.
func (co *Coordinator) ConfirmAppointment(caseID, centerID, date, band string) error {
	c, err := co.store.GetCase(caseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", caseID, err)
	}
	if c.CurrentState != domain.StateAwaitingUserApproval {
		return fmt.Errorf("case %s in state %s: %w", caseID, c.CurrentState, store.ErrInvalidTransition)
	}
	if err := co.store.ReserveSlot(centerID, date, band, caseID, c.VehicleID); err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("reserve slot: %w", err)
	}
	note := fmt.Sprintf("appointment confirmed at %s on %s %s", centerID, date, band)
	if err := co.store.TransitionCase(caseID, domain.StateAppointmentConfirmed, note); err != nil {
		// Roll the reservation back so the slot is not stranded.
		if relErr := co.store.ReleaseSlot(centerID, date, band); relErr != nil {
			co.logger.Error("slot release after failed transition", "case_id", caseID, "error", relErr)
		}
		return fmt.Errorf("confirm appointment: %w", err)
	}
	return nil
}

// RejectRecommendation cancels a case awaiting approval.
func (co *Coordinator) RejectRecommendation(caseID, reason string) error {
	c, err := co.store.GetCase(caseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", caseID, err)
	}
	if c.CurrentState != domain.StateAwaitingUserApproval {
		return fmt.Errorf("case %s in state %s: %w", caseID, c.CurrentState, store.ErrInvalidTransition)
	}
	if reason == "" {
		reason = "user rejected recommendation"
	}
	return co.store.TransitionCase(caseID, domain.StateCancelled, reason)
}
