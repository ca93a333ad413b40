package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Predictive-maintenance control plane for a vehicle fleet",
	Long: "Fleetwatch replays fleet telemetry against an ML inference service,\n" +
		"opens maintenance cases through an agent pipeline and recommends\n" +
		"service appointments.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		cfg := config.Load()
		logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

func main() {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
