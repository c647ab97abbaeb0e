package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/extrecon/extrecon/internal/config"
	"github.com/extrecon/extrecon/internal/observability"
	"github.com/extrecon/extrecon/pkg/bulk"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk [extension-id ...]",
	Short: "Resolve many extension identifiers as one job",
	Long: `Run a bulk lookup job over up to 50 extension identifiers. Identifiers
come from the arguments, or one per line on stdin with --stdin. Job
events are written to stdout as JSON lines while the job runs.

Example:
  extrecon bulk id1 id2 id3 --stores chrome,edge
  cat ids.txt | extrecon bulk --stdin --permissions`,
	RunE: runBulk,
}

var (
	bulkStores      []string
	bulkStdin       bool
	bulkPermissions bool
	bulkConcurrency int
)

func init() {
	rootCmd.AddCommand(bulkCmd)

	bulkCmd.Flags().StringSliceVar(&bulkStores, "stores", nil, "Storefronts to query (default: all)")
	bulkCmd.Flags().BoolVar(&bulkStdin, "stdin", false, "Read identifiers from stdin, one per line")
	bulkCmd.Flags().BoolVarP(&bulkPermissions, "permissions", "p", false, "Extract manifest permissions where supported")
	bulkCmd.Flags().IntVar(&bulkConcurrency, "concurrency", 0, "Concurrent lookups (default from config)")
}

func runBulk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ids := args
	if bulkStdin {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				ids = append(ids, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read stdin", err)
		}
	}
	if len(ids) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No extension ids provided", nil)
	}

	store, err := openCache(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
	}
	defer func() { _ = store.Close() }()

	bl, err := newBlocklist()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid blocklist configuration", err)
	}

	cfg := config.GetConfig()
	execCfg := bulk.DefaultConfig()
	if cfg.Bulk.Concurrency > 0 {
		execCfg.Concurrency = cfg.Bulk.Concurrency
	}
	if bulkConcurrency > 0 {
		execCfg.Concurrency = bulkConcurrency
	}
	execCfg.Logger = observability.CLILogger

	manager := bulk.NewManager(store, newRegistry(), bl, bulk.ManagerConfig{
		MaxActiveJobs: cfg.Bulk.MaxActiveJobs,
		Executor:      execCfg,
		Logger:        observability.CLILogger,
	})

	job, err := manager.Submit(ctx, bulk.SubmitRequest{
		ExtensionIDs:       ids,
		Stores:             bulkStores,
		IncludePermissions: bulkPermissions,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Job rejected", err)
	}

	events, ok := manager.Events(job.JobID)
	if !ok {
		return exitError(foundry.ExitExternalServiceUnavailable, "Job executor unavailable", nil)
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			_ = manager.Cancel(context.Background(), job.JobID)
			return exitError(foundry.ExitSignalInt, "bulk job cancelled", ctx.Err())
		case evt, open := <-events:
			if !open {
				final, err := manager.Get(cmd.Context(), job.JobID)
				if err != nil {
					return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read final job state", err)
				}
				if final.FailedTasks > 0 {
					return exitError(foundry.ExitExternalServiceUnavailable, "bulk job completed with failures",
						fmt.Errorf("failed_tasks=%d", final.FailedTasks))
				}
				return nil
			}
			if err := enc.Encode(evt); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write event", err)
			}
		}
	}
}
