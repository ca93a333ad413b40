package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fleetwatch/internal/config"
	"fleetwatch/internal/server"
)

var serveFlags struct {
	stub      bool
	autostart bool
	startDay  int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane: event stream, REST API and simulation clock",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.BoolVar(&serveFlags.stub, "stub", false, "Use the offline inference stub instead of ML_API_URL")
	f.BoolVar(&serveFlags.autostart, "autostart", false, "Start the simulation immediately")
	f.IntVar(&serveFlags.startDay, "start-day", 7, "Simulation day to start from with --autostart")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	st, err := buildStack(cfg, serveFlags.stub)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(st.bus, controls{st.scheduler})
	go hub.Run(ctx)

	if serveFlags.autostart {
		if err := st.scheduler.Start(serveFlags.startDay); err != nil {
			return err
		}
	}

	srv := server.New(":"+cfg.HTTPPort, st.store, st.inference, st.agents, hub, st.registry)
	return srv.Run(ctx)
}
