// Package cmd contains the medicore CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/medicore/medicore/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "medicore",
	Short: "MediCore - retrieval-augmented medical assistant service",
	Long: `MediCore answers health questions by retrieving relevant reference
documents via vector similarity and streaming a grounded model completion
back to the caller.

Commands:
  serve     start the HTTP API server
  backfill  compute embeddings for documents that lack one
  migrate   apply database migrations
  version   print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger from config values and installs it
// as the slog default.
func initLogger(level string, json bool) log.Logger {
	logger := log.New(log.Config{
		Level: log.ParseLevel(level),
		JSON:  json,
	})
	slog.SetDefault(logger)
	return logger
}

func init() {
	// Debug override without touching the config file.
	if os.Getenv("DEBUG") != "" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}
