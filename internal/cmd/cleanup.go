package cmd

import (
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/extrecon/extrecon/internal/observability"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete cache rows older than a cutoff",
	Long: `Delete cache rows whose last scrape is older than --older-than.
History snapshots and the search log are never touched.

Example:
  extrecon cleanup --older-than 720h`,
	RunE: runCleanup,
}

var cleanupOlderThan time.Duration

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Age cutoff for cache rows")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupOlderThan < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --older-than value", nil)
	}

	store, err := openCache(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
	}
	defer func() { _ = store.Close() }()

	removed, err := store.Cleanup(cmd.Context(), cleanupOlderThan)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cleanup failed", err)
	}

	observability.CLILogger.Info("cache cleanup complete",
		zap.Duration("older_than", cleanupOlderThan),
		zap.Int64("removed", removed))
	return printJSON(map[string]any{
		"removed":    removed,
		"older_than": cleanupOlderThan.String(),
	})
}
