package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fleetd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetd %s\n", fleet.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
