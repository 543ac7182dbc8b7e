package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "VPN fleet backend service",
	Long: `fleetd manages a fleet of VPN servers behind a single HTTP API.

It provisions WireGuard connection configs against per-server control
planes, reconciles backend panel users into a local database, and
aggregates fleet-wide health.

Examples:
  # Run the service with the default config search paths
  fleetd serve

  # Run with an explicit config file
  fleetd serve --config /etc/dopplerland-fleet/config.yaml

  # One-shot reconciliation of all backends
  fleetd sync`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithPath(configPath)
	}
	return config.NewLoader().Load()
}
