package catalog

import "fleetwatch/internal/domain"

func ptrF(v float64) *float64 { return &v }
func ptrB(v bool) *bool       { return &v }

// DemoOutcomes returns canned inference results for the scripted fault
// vehicles, matching the drifts injected by the telemetry generator. The
// offline stub serves these so a run without the ML service still opens
// cases.
func DemoOutcomes() map[string]*domain.PredictionOutcome {
	return map[string]*domain.PredictionOutcome{
		"MH12AB1234": {
			PredictionType: domain.PredictionDPF,
			Confidence:     0.87,
			EtaDays:        12,
			Signals: map[string]domain.SignalStat{
				"dpf.soot_load":      {Value: 78.4, Mean: 52.1, Max: 81.2, Min: 31.0},
				"dpf.delta_pressure": {Value: 16.9, Mean: 13.2, Max: 17.4, Min: 10.8},
			},
			ModelOutputs: map[string]domain.ModelOutput{
				"dpf": {Status: "success", RULDays: ptrF(12), FailureProbability: ptrF(0.87)},
			},
			Source: "stub",
		},
		"DL01EF9012": {
			PredictionType: domain.PredictionOil,
			Confidence:     0.74,
			EtaDays:        25,
			Signals: map[string]domain.SignalStat{
				"engine.oil_pressure": {Value: 3.1, Mean: 3.8, Max: 4.5, Min: 2.9},
			},
			ModelOutputs: map[string]domain.ModelOutput{
				"oil": {Status: "success", RULDays: ptrF(25), FailureProbability: ptrF(0.74)},
			},
			Source: "stub",
		},
		"RJ14IJ7890": {
			PredictionType: domain.PredictionCascade,
			Confidence:     0.91,
			EtaDays:        4,
			Signals: map[string]domain.SignalStat{
				"scr.nox_efficiency": {Value: 0.71, Mean: 0.84, Max: 0.94, Min: 0.69},
				"dpf.delta_pressure": {Value: 19.8, Mean: 15.6, Max: 20.3, Min: 11.1},
			},
			ModelOutputs: map[string]domain.ModelOutput{
				"scr":     {Status: "success", RULDays: ptrF(6), FailureProbability: ptrF(0.88)},
				"dpf":     {Status: "success", RULDays: ptrF(4), FailureProbability: ptrF(0.91)},
				"anomaly": {Status: "success", AnomalyScore: ptrF(0.93), IsAnomaly: ptrB(true)},
			},
			Source: "stub",
		},
	}
}
