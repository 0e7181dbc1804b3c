package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medicore/medicore/db"
	"github.com/medicore/medicore/internal/rag"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute embeddings for documents that lack one",
	Long: `Backfill scans the document corpus for rows without an embedding,
generates one per document via the AI gateway, and writes it back. A
failure on one document is logged and counted; the pass continues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackfill()
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill() error {
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

	report, err := rag.Backfill(ctx, a.corpus, a.client, a.logger)
	if err != nil {
		return err
	}

	fmt.Printf("documents: %d, embedded: %d, failed: %d\n",
		report.Total, report.Embedded, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d documents failed to embed", report.Failed)
	}
	return nil
}
