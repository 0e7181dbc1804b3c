package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medicore/medicore/db"
	"github.com/medicore/medicore/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := initLogger(cfg.LogLevel, cfg.LogJSON)
		return db.Migrate(cfg.PostgresURL(), logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
