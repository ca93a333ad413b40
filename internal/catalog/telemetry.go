package catalog

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"fleetwatch/internal/domain"
)

// RowsPerDay is the sampling cadence: one row per five minutes.
const RowsPerDay = 288

// FaultScript describes a slow drift injected into one channel so a
// simulation run actually produces degrading vehicles.
type FaultScript struct {
	Channel   string  // e.g. "dpf.soot_load"
	StartDay  int     // drift begins this many days in
	DriftRate float64 // per-day shift applied to the channel baseline
}

// channel baselines with noise amplitude; keys follow the
// "<subsystem>.<channel>" convention used on the wire.
type channelSpec struct {
	name     string
	baseline float64
	noise    float64
}

var dieselChannels = []channelSpec{
	{"engine.oil_pressure", 4.2, 0.15},
	{"engine.coolant_temp", 88, 2.5},
	{"engine.rpm", 1600, 180},
	{"dpf.soot_load", 35, 4},
	{"dpf.delta_pressure", 12, 1.2},
	{"scr.nox_efficiency", 0.92, 0.02},
	{"scr.def_level", 0.7, 0.05},
	{"battery.voltage", 27.6, 0.3},
}

var evChannels = []channelSpec{
	{"battery.soc", 0.72, 0.08},
	{"battery.pack_temp", 31, 2.0},
	{"battery.cell_imbalance", 0.012, 0.003},
	{"motor.winding_temp", 68, 4},
	{"motor.rpm", 2200, 250},
	{"brake.regen_ratio", 0.55, 0.06},
}

// GenerateRows produces days*RowsPerDay telemetry rows for one vehicle,
// 5-minute cadence starting at start. Output is fully deterministic for a
// given (vehicle id, start, faults) triple.
func GenerateRows(v *domain.Vehicle, start time.Time, days int, faults []FaultScript) []domain.TelemetryRow {
	channels := dieselChannels
	if v.IsEV() {
		channels = evChannels
	}
	rng := rand.New(rand.NewSource(int64(seedFor(v.ID))))
	total := days * RowsPerDay
	rows := make([]domain.TelemetryRow, total)
	for i := 0; i < total; i++ {
		day := float64(i) / RowsPerDay
		// Daily duty cycle: higher load mid-shift, idle overnight.
		phase := math.Sin(2 * math.Pi * (float64(i%RowsPerDay) / RowsPerDay))
		sensors := make(map[string]float64, len(channels))
		for _, ch := range channels {
			val := ch.baseline + 0.1*ch.baseline*phase + ch.noise*rng.NormFloat64()
			for _, f := range faults {
				if f.Channel == ch.name && day >= float64(f.StartDay) {
					val += f.DriftRate * (day - float64(f.StartDay))
				}
			}
			sensors[ch.name] = math.Round(val*1000) / 1000
		}
		rows[i] = domain.TelemetryRow{
			VehicleID: v.ID,
			RowIndex:  i,
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute).UTC(),
			Sensors:   sensors,
		}
	}
	return rows
}

func seedFor(vehicleID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return h.Sum32()
}
