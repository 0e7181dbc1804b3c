package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medicore/medicore/db"
	"github.com/medicore/medicore/internal/api"
	"github.com/medicore/medicore/internal/rag"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the application and runs the HTTP server until SIGINT or
// SIGTERM.
func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := db.Migrate(a.cfg.PostgresURL(), a.logger); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		Pipeline: a.pipeline,
		History:  a.history,
		Backfill: func(ctx context.Context) (rag.BackfillReport, error) {
			return rag.Backfill(ctx, a.corpus, a.client, a.logger.With("component", "backfill"))
		},
		Pool:       a.pool,
		Logger:     a.logger,
		RatePerSec: a.cfg.RatePerSec,
		RateBurst:  a.cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.ListenAddr
	}

	a.logger.Info("medicore ready", "addr", addr, "chat", "/api/chat", "health", "/health")
	return server.Run(ctx, addr)
}
