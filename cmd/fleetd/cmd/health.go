package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/health"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every active server and print a fleet health snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		log := logger.New(logger.LoggerConfig{
			Level:     logger.LevelWarn,
			Format:    logger.OutputFormat(cfg.Log.Format),
			Component: "fleetd",
			Version:   fleet.Version,
		})

		store, err := db.NewStore(&db.Config{
			Path:            cfg.DB.Path,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		creds := backend.NewCredentialStore(store)
		panel := backend.NewPanelClient(creds, backend.NewMemoryTokenCache(), backend.Options{
			Timeout:        cfg.Backend.PanelTimeout,
			TokenLifetime:  cfg.Backend.TokenLifetime,
			TokenSafetyGap: cfg.Backend.TokenSafetyGap,
			APIKeyHeader:   cfg.Backend.APIKeyHeader,
		}, log)
		aggregator := health.New(store, creds, panel, nil, cfg.Health.ProbeTimeout, log)

		snapshot, err := aggregator.ProbeFleet(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Fleet Health Snapshot\n")
		fmt.Printf("=====================\n\n")
		for _, s := range snapshot.Servers {
			line := fmt.Sprintf("%-40s %-10s", s.ServerName, s.Status)
			if s.LatencyMS != nil {
				line += fmt.Sprintf(" %4dms", *s.LatencyMS)
			}
			if s.Error != "" {
				line += fmt.Sprintf("  (%s)", s.Error)
			}
			fmt.Println(line)
		}
		fmt.Printf("\nhealthy=%d degraded=%d down=%d unmonitored=%d\n",
			snapshot.Healthy, snapshot.Degraded, snapshot.Down, snapshot.Unmonitor)

		if snapshot.Down > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
