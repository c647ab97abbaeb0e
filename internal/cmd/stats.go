package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and search statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCache(cmd.Context())
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
		}
		defer func() { _ = store.Close() }()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to compute statistics", err)
		}
		return printJSON(stats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
