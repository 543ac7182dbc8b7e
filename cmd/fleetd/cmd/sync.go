package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/backend"
	"github.com/pochtmanr/dopplerland-fleet/internal/fleet/db"
	fleetsync "github.com/pochtmanr/dopplerland-fleet/internal/fleet/sync"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

var syncServerID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile backend panel users into the local database",
	Long: `Run a one-shot reconciliation against every configured backend
(or a single server with --server) and print the per-server results.

Examples:
  # Sync all servers
  fleetd sync

  # Sync one server
  fleetd sync --server 2f1c...`,
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
		reconciler := fleetsync.New(store, creds, panel, nil, fleetsync.Options{
			PageSize: cfg.Sync.PageSize,
		}, log)

		var results []fleetsync.ServerResult
		if syncServerID != "" {
			results = []fleetsync.ServerResult{reconciler.SyncServer(ctx, syncServerID)}
		} else {
			results, err = reconciler.SyncAll(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Printf("Sync Results\n")
		fmt.Printf("============\n\n")
		for _, r := range results {
			fmt.Printf("%-40s synced=%-5d errors=%d", r.ServerID, r.SyncedCount, r.ErrorCount)
			if r.Error != "" {
				fmt.Printf("  (%s)", r.Error)
			}
			fmt.Println()
		}
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncServerID, "server", "", "sync a single server by id")
	rootCmd.AddCommand(syncCmd)
}
