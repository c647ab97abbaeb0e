package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/extension"
)

var historyCmd = &cobra.Command{
	Use:   "history <store> <extension-id>",
	Short: "Show the snapshot history for an extension",
	Long: `Show the recorded snapshot timeline for one extension, oldest first,
with version, name, and permission changes between consecutive
snapshots.

Example:
  extrecon history chrome cjpalhdlnbpafiamejdnhcphjbkeiagm`,
	Args: cobra.ExactArgs(2),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, ok := extension.ParseStore(args[0])
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Unknown store", fmt.Errorf("%q is not a known store", args[0]))
	}

	store, err := openCache(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
	}
	defer func() { _ = store.Close() }()

	snapshots, err := store.History(ctx, args[1], st)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read history", err)
	}

	entries, permissionChanges := cachestore.DiffHistory(snapshots)
	if entries == nil {
		entries = []cachestore.HistoryEntry{}
	}
	return printJSON(map[string]any{
		"id":                 args[1],
		"store":              st,
		"entries":            entries,
		"permission_changes": permissionChanges,
	})
}
