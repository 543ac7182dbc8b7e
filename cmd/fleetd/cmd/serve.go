package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pochtmanr/dopplerland-fleet/internal/fleet"
	"github.com/pochtmanr/dopplerland-fleet/internal/shared/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet service",
	Long: `Run the fleet HTTP API together with the periodic sync and
health probe loops. Blocks until SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		log := logger.NewProduction("fleetd", fleet.Version)
		log.InfoContext(ctx, "starting fleetd", "version", fleet.Version)

		cfg, err := loadConfig()
		if err != nil {
			log.ErrorCtx(ctx, "failed to load configuration", err)
			os.Exit(1)
		}

		// Re-create the logger with configured settings
		log = logger.New(logger.LoggerConfig{
			Level:     logger.LogLevel(cfg.Log.Level),
			Format:    logger.OutputFormat(cfg.Log.Format),
			Component: "fleetd",
			Version:   fleet.Version,
		})
		log.DebugContext(ctx, "configuration loaded successfully")

		service, err := fleet.NewService(cfg, log)
		if err != nil {
			log.ErrorCtx(ctx, "failed to create service", err)
			os.Exit(1)
		}

		if err := service.Start(ctx); err != nil {
			log.ErrorCtx(ctx, "failed to start service", err)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := service.Stop(shutdownCtx); stopErr != nil {
				log.ErrorCtx(ctx, "failed to cleanup service after startup failure", stopErr)
			}

			os.Exit(1)
		}

		fmt.Printf("fleetd listening on %s\n", cfg.API.ListenAddr)

		service.WaitForShutdown()

		log.InfoContext(ctx, "main process exiting")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
