package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetwatch/internal/config"
	"fleetwatch/internal/events"
)

var simulateFlags struct {
	stub     bool
	startDay int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the simulation headless until the telemetry is exhausted",
	RunE:  runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.BoolVar(&simulateFlags.stub, "stub", false, "Use the offline inference stub instead of ML_API_URL")
	f.IntVar(&simulateFlags.startDay, "start-day", 7, "Simulation day to start from")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	st, err := buildStack(cfg, simulateFlags.stub)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	evCh := make(chan events.Event, 256)
	st.bus.Subscribe("simulate-cli", evCh)
	defer st.bus.Unsubscribe("simulate-cli")

	if err := st.scheduler.Start(simulateFlags.startDay); err != nil {
		return err
	}

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Interrupted, cancelling in-flight jobs...")
			st.scheduler.Stop()
			return nil
		case ev := <-evCh:
			printEvent(out, ev)
		case <-poll.C:
			snap := st.scheduler.Snapshot()
			if !snap.Running {
				fmt.Fprintf(out, "Simulation complete: %d ticks, day %d/%d\n",
					snap.TickCount, snap.SimDay, snap.SimDayTotal)
				return nil
			}
		}
	}
}

func printEvent(out io.Writer, ev events.Event) {
	switch ev.Type {
	case events.TypeTickSummary:
		if p, ok := ev.Payload.(events.TickSummaryPayload); ok {
			fmt.Fprintf(out, "day %d: tick %d, %d vehicle(s) scored\n", p.SimDay, p.TickCount, p.VehiclesQueued)
		}
	case events.TypeAlert:
		if p, ok := ev.Payload.(events.AlertPayload); ok {
			fmt.Fprintf(out, "  ALERT %s: %s severity=%s eta=%.0fd case=%s state=%s\n",
				p.VehicleID, p.PredictionType, p.Severity, p.EtaDays, p.CaseID, p.State)
		}
	case events.TypeCaseExists:
		if p, ok := ev.Payload.(events.CaseExistsPayload); ok {
			fmt.Fprintf(out, "  linked %s to open case %s\n", p.VehicleID, p.CaseID)
		}
	}
}
