// Package cmd implements the extrecon command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/extrecon/extrecon/internal/config"
	"github.com/extrecon/extrecon/internal/observability"
	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/cachestore"
	"github.com/extrecon/extrecon/pkg/recon"
	"github.com/extrecon/extrecon/pkg/scraper"
)

// versionInfo carries build metadata injected at link time.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata before Execute.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagLogLevel string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "extrecon",
	Short: "Browser extension reconnaissance toolkit",
	Long: `extrecon resolves browser extension identifiers against the Chrome,
Firefox, Edge, and Safari storefronts, caches the results, tracks
permission and version history, and flags identifiers known to threat
intelligence blocklists.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; absence is not an error.
		_ = godotenv.Load()

		if _, err := config.Load(cmd.Context()); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
		}

		level := flagLogLevel
		if level == "" {
			level = config.GetConfig().Logging.Level
		}
		if err := observability.InitCLILogger(level, flagVerbose); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Failed to initialize logging", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose log output")

	rootCmd.Version = versionInfo.Version
	rootCmd.SetVersionTemplate("extrecon {{.Version}}\n")
}

// exitCodeError couples a command error with a process exit code.
type exitCodeError struct {
	code foundry.ExitCode
	msg  string
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitCodeError) Unwrap() error { return e.err }

// exitError wraps err with a foundry exit code for Execute.
func exitError(code foundry.ExitCode, msg string, err error) error {
	return &exitCodeError{code: code, msg: msg, err: err}
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	rootCmd.Version = versionInfo.Version

	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var coded *exitCodeError
		if errors.As(err, &coded) {
			return int(coded.code)
		}
		return 1
	}
	return 0
}

// openCache opens the configured cache store.
func openCache(ctx context.Context) (*cachestore.Store, error) {
	cfg := config.GetConfig()
	return cachestore.Open(ctx, cachestore.Config{
		Path:      cfg.Cache.Path,
		Freshness: cfg.Cache.FreshnessWindow(),
	})
}

// newRegistry builds the storefront adapter registry from config.
func newRegistry() *scraper.Registry {
	cfg := config.GetConfig()
	sc := scraper.DefaultConfig()
	if cfg.Scraper.Timeout > 0 {
		sc.Timeout = cfg.Scraper.Timeout
	}
	if cfg.Scraper.RateLimit > 0 {
		sc.RateLimit = cfg.Scraper.RateLimit
	}
	if cfg.Scraper.UserAgent != "" {
		sc.UserAgent = cfg.Scraper.UserAgent
	}
	return scraper.NewRegistry(sc)
}

// newBlocklist builds the blocklist service from config, or nil when
// the feature is disabled.
func newBlocklist() (*blocklist.Service, error) {
	cfg := config.GetConfig()
	if !cfg.Blocklist.Enabled {
		return nil, nil
	}

	sources, err := blocklist.LoadSources(cfg.Blocklist.SourcesFile)
	if err != nil {
		return nil, err
	}
	return blocklist.NewService(blocklist.Config{
		Sources: sources,
		TTL:     cfg.Blocklist.TTL,
		Logger:  observability.CLILogger,
	}), nil
}

// newRecon wires a lookup service over an open cache store.
func newRecon(store *cachestore.Store, bl *blocklist.Service) *recon.Service {
	return recon.NewService(store, newRegistry(), bl, observability.CLILogger)
}
