package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CaseState
		want     bool
	}{
		{StateReceived, StateOrchestrating, true},
		{StateOrchestrating, StateAwaitingUserApproval, true},
		{StateOrchestrating, StateCustomerNotified, true},
		{StateOrchestrating, StateProcessed, true},
		{StateAwaitingUserApproval, StateAppointmentConfirmed, true},
		{StateAwaitingUserApproval, StateCancelled, true},
		{StateAppointmentConfirmed, StateInService, true},
		{StateInService, StateCompleted, true},

		{StateReceived, StateAwaitingUserApproval, false},
		{StateOrchestrating, StateReceived, false},
		{StateProcessed, StateInService, false},
		{StateCompleted, StateInService, false},
		{StateCancelled, StateOrchestrating, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionToFailed(t *testing.T) {
	for _, from := range []CaseState{
		StateReceived, StateOrchestrating, StateAwaitingUserApproval,
		StateAppointmentConfirmed, StateCustomerNotified, StateProcessed, StateInService,
	} {
		if !from.CanTransition(StateFailed) {
			t.Errorf("%s -> FAILED should be legal", from)
		}
	}
	for _, from := range []CaseState{StateCompleted, StateFailed, StateCancelled} {
		if from.CanTransition(StateFailed) {
			t.Errorf("terminal %s -> FAILED should be illegal", from)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[CaseState]bool{
		StateCompleted: true, StateFailed: true, StateCancelled: true,
	}
	for _, s := range []CaseState{
		StateReceived, StateOrchestrating, StateAwaitingUserApproval, StateAppointmentConfirmed,
		StateCustomerNotified, StateProcessed, StateInService, StateCompleted, StateFailed, StateCancelled,
	} {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("IsTerminal(%s): got %v", s, got)
		}
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityUnknown, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("Rank(%s)=%d not above Rank(%s)=%d",
				order[i], order[i].Rank(), order[i-1], order[i-1].Rank())
		}
	}
}

func TestDistanceKM(t *testing.T) {
	gurugram := GeoPoint{Lon: 77.0266, Lat: 28.4595}
	jaipur := GeoPoint{Lon: 75.7873, Lat: 26.9124}

	d := gurugram.DistanceKM(jaipur)
	// Road-atlas straight line is roughly 210 km.
	if d < 190 || d > 230 {
		t.Errorf("Gurugram-Jaipur distance: got %.1f km", d)
	}
	if self := gurugram.DistanceKM(gurugram); self != 0 {
		t.Errorf("distance to self: got %v", self)
	}
	if a, b := gurugram.DistanceKM(jaipur), jaipur.DistanceKM(gurugram); a != b {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestAvailableOn(t *testing.T) {
	c := &ServiceCenter{Slots: []Slot{
		{Date: "2026-09-01", Band: "morning", Status: SlotAvailable},
		{Date: "2026-09-01", Band: "midday", Status: SlotBooked},
		{Date: "2026-09-01", Band: "afternoon", Status: SlotAvailable},
		{Date: "2026-09-02", Band: "morning", Status: SlotAvailable},
	}}
	if got := c.AvailableOn("2026-09-01"); got != 2 {
		t.Errorf("AvailableOn: got %d want 2", got)
	}
	if got := c.AvailableOn("2026-09-03"); got != 0 {
		t.Errorf("AvailableOn empty day: got %d want 0", got)
	}
}
