package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/extrecon/extrecon/internal/config"
	"github.com/extrecon/extrecon/internal/observability"
	"github.com/extrecon/extrecon/internal/server"
	"github.com/extrecon/extrecon/internal/server/handlers"
	"github.com/extrecon/extrecon/internal/server/middleware"
	"github.com/extrecon/extrecon/pkg/blocklist"
	"github.com/extrecon/extrecon/pkg/bulk"
	"github.com/extrecon/extrecon/pkg/cachestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server: extension lookups, bulk jobs with event
streaming, history, blocklist inspection, and statistics. Scheduled
blocklist refreshes and cache retention sweeps run in-process.

Example:
  extrecon serve
  extrecon serve --host 0.0.0.0 --port 9000`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

// cacheHealthChecker probes the cache database connection.
type cacheHealthChecker struct {
	store *cachestore.Store
}

func (c cacheHealthChecker) CheckHealth(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()

	host := cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}

	log, err := observability.NewServerLogger(cfg.Logging.Level)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize server logging", err)
	}
	defer func() { _ = log.Sync() }()

	store, err := openCache(cmd.Context())
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cache store", err)
	}
	defer func() { _ = store.Close() }()

	bl, err := newBlocklist()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid blocklist configuration", err)
	}
	if bl != nil {
		// Warm the blocklist off the startup path; serving begins
		// regardless of how the first refresh goes.
		go warmBlocklist(cmd.Context(), bl, log)
	}

	registry := newRegistry()
	manager := bulk.NewManager(store, registry, bl, bulk.ManagerConfig{
		MaxActiveJobs: cfg.Bulk.MaxActiveJobs,
		Executor: bulk.Config{
			Concurrency: cfg.Bulk.Concurrency,
			Logger:      log,
		},
		Logger: log,
	})

	api := handlers.NewAPI(newRecon(store, bl), store, manager, bl, log)

	handlers.InitHealthManager(versionInfo.Version)
	handlers.GetHealthManager().RegisterChecker("cache", cacheHealthChecker{store: store})
	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)

	// SSE streams outlive any fixed write deadline, so the write
	// timeout is left unset.
	srv := server.New(host, port,
		server.WithAPI(api),
		server.WithAPIKey(cfg.API.Key),
		server.WithRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.API.RateLimit,
			Burst:             cfg.API.RateBurst,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, 0, cfg.Server.IdleTimeout),
	)

	scheduler := startSchedules(cmd.Context(), cfg, store, bl, log)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting extrecon server",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version))

	err = srv.Start(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Graceful shutdown failed", err)
		}
		log.Info("server stopped")
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}

// warmBlocklist runs the single best-effort refresh at startup so the
// first lookup does not pay for the initial feed fetch.
func warmBlocklist(ctx context.Context, bl *blocklist.Service, log *zap.Logger) {
	refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := bl.Refresh(refreshCtx); err != nil {
		log.Warn("startup blocklist refresh failed", zap.Error(err))
		return
	}
	log.Info("startup blocklist refresh complete")
}

// startSchedules wires the cron jobs for blocklist refresh and cache
// retention. Returns nil when nothing is scheduled.
func startSchedules(ctx context.Context, cfg *config.Config, store *cachestore.Store, bl *blocklist.Service, log *zap.Logger) *cron.Cron {
	c := cron.New()
	scheduled := false

	if bl != nil && cfg.Blocklist.RefreshSchedule != "" {
		_, err := c.AddFunc(cfg.Blocklist.RefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()
			if err := bl.Refresh(refreshCtx); err != nil {
				log.Warn("scheduled blocklist refresh failed", zap.Error(err))
				return
			}
			log.Info("scheduled blocklist refresh complete")
		})
		if err != nil {
			log.Warn("invalid blocklist refresh schedule",
				zap.String("schedule", cfg.Blocklist.RefreshSchedule), zap.Error(err))
		} else {
			scheduled = true
		}
	}

	if cfg.Retention.Enabled && cfg.Retention.Schedule != "" {
		_, err := c.AddFunc(cfg.Retention.Schedule, func() {
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			removed, err := store.Cleanup(sweepCtx, cfg.Retention.MaxAge)
			if err != nil {
				log.Warn("scheduled cache cleanup failed", zap.Error(err))
				return
			}
			log.Info("scheduled cache cleanup complete", zap.Int64("removed", removed))
		})
		if err != nil {
			log.Warn("invalid retention schedule",
				zap.String("schedule", cfg.Retention.Schedule), zap.Error(err))
		} else {
			scheduled = true
		}
	}

	if !scheduled {
		return nil
	}
	c.Start()
	return c
}
