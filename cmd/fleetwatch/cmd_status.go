package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetwatch/internal/config"
	"fleetwatch/internal/domain"
	"fleetwatch/internal/inference"
	"fleetwatch/internal/store"
)

var statusFlags struct {
	cases int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the fleet, case pipeline and recent predictions",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusFlags.cases, "cases", 10, "Recent cases to list")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	out := cmd.OutOrStdout()

	if client, err := inference.NewClient(cfg.MLAPIURL); err == nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		if err := client.Health(ctx); err != nil {
			fmt.Fprintf(out, "ML API:  unreachable (%s)\n", cfg.MLAPIURL)
		} else {
			fmt.Fprintf(out, "ML API:  healthy (%s)\n", cfg.MLAPIURL)
		}
		cancel()
	}

	vehicles, err := st.ListVehicles()
	if err != nil {
		return fmt.Errorf("list vehicles: %w", err)
	}
	fmt.Fprintf(out, "Fleet:   %d vehicle(s)\n", len(vehicles))
	for _, v := range vehicles {
		n, err := st.TelemetryCount(v.ID)
		if err != nil {
			return fmt.Errorf("telemetry count %s: %w", v.ID, err)
		}
		fmt.Fprintf(out, "  %-12s %s %s (%s), %d telemetry rows\n", v.ID, v.Make, v.Model, v.Powertrain, n)
	}

	stats, err := st.CaseStatsByState()
	if err != nil {
		return fmt.Errorf("case stats: %w", err)
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "Cases:   none")
		return nil
	}
	fmt.Fprintln(out, "Cases:")
	for _, state := range []domain.CaseState{
		domain.StateReceived, domain.StateOrchestrating, domain.StateAwaitingUserApproval,
		domain.StateAppointmentConfirmed, domain.StateCustomerNotified, domain.StateProcessed,
		domain.StateInService, domain.StateCompleted, domain.StateFailed, domain.StateCancelled,
	} {
		if n := stats[state]; n > 0 {
			fmt.Fprintf(out, "  %-24s %d\n", state, n)
		}
	}

	cases, err := st.ListCases(statusFlags.cases)
	if err != nil {
		return fmt.Errorf("list cases: %w", err)
	}
	if len(cases) > 0 {
		fmt.Fprintf(out, "Recent:  (%d)\n", len(cases))
		for _, c := range cases {
			fmt.Fprintf(out, "  %s %s %s severity=%s eta=%.0fd state=%s\n",
				c.ID[:8], c.VehicleID, c.Metadata.PredictionType, c.Severity, c.Metadata.EtaDays, c.CurrentState)
		}
	}
	return nil
}
