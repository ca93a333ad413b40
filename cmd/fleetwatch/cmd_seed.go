package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetwatch/internal/catalog"
	"fleetwatch/internal/config"
	"fleetwatch/internal/store"
)

var seedFlags struct {
	telemetryDays int
	baseDate      string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo fleet, service centers and generated telemetry",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.IntVar(&seedFlags.telemetryDays, "telemetry-days", 60, "Days of telemetry to generate per vehicle (0 skips telemetry)")
	f.StringVar(&seedFlags.baseDate, "base-date", "", "Capacity base date, YYYY-MM-DD (default today UTC)")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	base := time.Now().UTC()
	if seedFlags.baseDate != "" {
		base, err = time.Parse("2006-01-02", seedFlags.baseDate)
		if err != nil {
			return fmt.Errorf("parse base date: %w", err)
		}
	}

	if err := catalog.NewSeeder(st).Seed(cmd.Context(), base, seedFlags.telemetryDays); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s (base date %s, %d telemetry days)\n",
		cfg.DBPath, base.Format("2006-01-02"), seedFlags.telemetryDays)
	return nil
}
