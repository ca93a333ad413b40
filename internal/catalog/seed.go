package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/domain"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/store"
)

// slot bands, in order of the day.
var bands = []string{"morning", "midday", "afternoon", "evening"}

// SlotHorizonDays is how far ahead the seeder opens capacity.
const SlotHorizonDays = 45

// faultScripts drives which demo vehicles degrade, and how fast.
var faultScripts = map[string][]FaultScript{
	"MH12AB1234": {{Channel: "dpf.soot_load", StartDay: 10, DriftRate: 1.8}},
	"DL01EF9012": {{Channel: "engine.oil_pressure", StartDay: 20, DriftRate: -0.035}},
	"RJ14IJ7890": {
		{Channel: "scr.nox_efficiency", StartDay: 15, DriftRate: -0.006},
		{Channel: "dpf.delta_pressure", StartDay: 15, DriftRate: 0.25},
	},
}

// Seeder loads the embedded fixtures into a store.
type Seeder struct {
	store  store.Store
	logger *slog.Logger
}

// NewSeeder wraps a store.
func NewSeeder(st store.Store) *Seeder {
	return &Seeder{store: st, logger: logging.New("catalog")}
}

// Seed upserts the full demo dataset: fleet, profiles, centers with open
// capacity from baseDate, and telemetryDays of generated sensor rows.
// Upserts make it safe to rerun against an existing database, except for
// telemetry, which is skipped for vehicles that already have rows.
func (s *Seeder) Seed(ctx context.Context, baseDate time.Time, telemetryDays int) error {
	vehicles, err := LoadFleet()
	if err != nil {
		return err
	}
	for _, v := range vehicles {
		if err := s.store.UpsertVehicle(v); err != nil {
			return fmt.Errorf("seed vehicle %s: %w", v.ID, err)
		}
	}
	s.logger.Info("fleet seeded", "vehicles", len(vehicles))

	profiles, err := LoadProfiles()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := s.store.UpsertProfile(p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.UserID, err)
		}
	}

	centers, err := LoadCenters()
	if err != nil {
		return err
	}
	for _, c := range centers {
		if c.Active {
			c.Slots = generateSlots(c, baseDate)
		}
		if err := s.store.UpsertCenter(c); err != nil {
			return fmt.Errorf("seed center %s: %w", c.ID, err)
		}
	}
	s.logger.Info("centers seeded", "centers", len(centers), "slot_horizon_days", SlotHorizonDays)

	if telemetryDays <= 0 {
		return nil
	}
	start := baseDate.AddDate(0, 0, -telemetryDays)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, v := range vehicles {
		v := v
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			existing, err := s.store.TelemetryCount(v.ID)
			if err != nil {
				return fmt.Errorf("seed telemetry %s: %w", v.ID, err)
			}
			if existing > 0 {
				s.logger.Debug("telemetry present, skipping", "vehicle_id", v.ID, "rows", existing)
				return nil
			}
			rows := GenerateRows(v, start, telemetryDays, faultScripts[v.ID])
			if err := s.store.InsertTelemetry(rows); err != nil {
				return fmt.Errorf("seed telemetry %s: %w", v.ID, err)
			}
			s.logger.Info("telemetry generated", "vehicle_id", v.ID, "rows", len(rows))
			return nil
		})
	}
	return g.Wait()
}

// generateSlots opens capacity for the horizon. Band count per day is
// capped by the band list; a deterministic hash blocks a share of slots so
// centers differ in availability.
func generateSlots(c *domain.ServiceCenter, baseDate time.Time) []domain.Slot {
	perDay := c.SlotsPerDay
	if perDay > len(bands) {
		perDay = len(bands)
	}
	var slots []domain.Slot
	for day := 0; day < SlotHorizonDays; day++ {
		date := baseDate.AddDate(0, 0, day).Format("2006-01-02")
		for i := 0; i < perDay; i++ {
			status := domain.SlotAvailable
			if seedFor(c.ID+date+bands[i])%7 == 0 {
				status = domain.SlotBlocked
			}
			slots = append(slots, domain.Slot{Date: date, Band: bands[i], Status: status})
		}
	}
	return slots
}
