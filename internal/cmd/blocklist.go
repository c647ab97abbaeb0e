package cmd

import (
	"encoding/json"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/extrecon/extrecon/pkg/blocklist"
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Inspect and refresh threat-intelligence blocklists",
}

var blocklistStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-source blocklist status",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := requireBlocklist()
		if err != nil {
			return err
		}
		if err := svc.RefreshIfStale(cmd.Context()); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Blocklist refresh failed", err)
		}
		return printJSON(svc.Status())
	},
}

var blocklistRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a refetch of every blocklist source",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := requireBlocklist()
		if err != nil {
			return err
		}
		if err := svc.Refresh(cmd.Context()); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Blocklist refresh failed", err)
		}
		return printJSON(svc.Status())
	},
}

var blocklistCheckCmd = &cobra.Command{
	Use:   "check <extension-id>",
	Short: "Check one identifier against the blocklists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := requireBlocklist()
		if err != nil {
			return err
		}
		matches, err := svc.Check(cmd.Context(), args[0])
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Blocklist check failed", err)
		}
		if matches == nil {
			matches = []blocklist.Match{}
		}
		return printJSON(map[string]any{
			"id":      args[0],
			"listed":  len(matches) > 0,
			"matches": matches,
		})
	},
}

func init() {
	rootCmd.AddCommand(blocklistCmd)
	blocklistCmd.AddCommand(blocklistStatusCmd, blocklistRefreshCmd, blocklistCheckCmd)
}

func requireBlocklist() (*blocklist.Service, error) {
	svc, err := newBlocklist()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid blocklist configuration", err)
	}
	if svc == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Blocklist checking is disabled in configuration", nil)
	}
	return svc, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
