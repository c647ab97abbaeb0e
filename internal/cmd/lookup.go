package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/extrecon/extrecon/internal/observability"
	"github.com/extrecon/extrecon/pkg/extension"
	"github.com/extrecon/extrecon/pkg/recon"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <extension-id>",
	Short: "Resolve one extension identifier",
	Long: `Resolve an extension identifier against a storefront, serving fresh
cache rows without a network fetch. Without --store the identifier is
fanned out across every storefront whose id format matches.

Example:
  extrecon lookup cjpalhdlnbpafiamejdnhcphjbkeiagm
  extrecon lookup uBlock0@raymondhill.net --store firefox
  extrecon lookup cjpalhdlnbpafiamejdnhcphjbkeiagm --store chrome --permissions`,
	Args: cobra.ExactArgs(1),
	RunE: runLookup,
}

var (
	lookupStore       string
	lookupPermissions bool
)

func init() {
	rootCmd.AddCommand(lookupCmd)

	lookupCmd.Flags().StringVarP(&lookupStore, "store", "s", "", "Storefront (chrome|firefox|edge|safari)")
	lookupCmd.Flags().BoolVarP(&lookupPermissions, "permissions", "p", false, "Extract manifest permissions where supported")
}

func runLookup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := args[0]

	store, err := openCache(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
	}
	defer func() { _ = store.Close() }()

	bl, err := newBlocklist()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid blocklist configuration", err)
	}
	svc := newRecon(store, bl)

	opts := recon.LookupOptions{IncludePermissions: lookupPermissions}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if lookupStore == "" {
		results, err := svc.LookupAll(ctx, id, opts)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Lookup failed", err)
		}
		return enc.Encode(results)
	}

	st, ok := extension.ParseStore(lookupStore)
	if !ok {
		return exitError(foundry.ExitInvalidArgument, "Unknown store", fmt.Errorf("%q is not a known store", lookupStore))
	}

	result, err := svc.Lookup(ctx, st, id, opts)
	if err != nil {
		observability.CLILogger.Error("lookup failed",
			zap.String("id", id),
			zap.String("store", string(st)),
			zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Lookup failed", err)
	}
	return enc.Encode(result)
}
