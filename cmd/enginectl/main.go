// Command enginectl is the operator CLI for one-off engine operations
// that don't warrant waiting for the next scheduled firing.
//
// Usage:
//
//	enginectl sync run --connector 3 --full
//	enginectl queue process --connector 3
//	enginectl maintenance run --connector 3
//	enginectl notify test --event searchFailed
//	enginectl throttle status --connector 3
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/maintenance"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/notify"
	"github.com/engels74/comradarr-sub004/internal/queue"
	"github.com/engels74/comradarr-sub004/internal/secret"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/sync"
	"github.com/engels74/comradarr-sub004/internal/throttle"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Library-completion engine operator CLI",
	}

	root.AddCommand(syncCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(maintenanceCmd())
	root.AddCommand(notifyCmd())
	root.AddCommand(throttleCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// sync command
// --------------------------------------------------------------------------

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a connector sync sweep",
	}
	cmd.AddCommand(syncRunCmd())
	return cmd
}

func syncRunCmd() *cobra.Command {
	var connectorID int64
	var full bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover gaps and upgrades for a connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectorID == 0 {
				return fmt.Errorf("--connector is required")
			}
			return runEnginectl(func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error {
				connector, err := storage.ConnectorByID(ctx, pool, connectorID)
				if err != nil {
					return fmt.Errorf("load connector: %w", err)
				}
				client, err := clientFor(cfg, secrets, *connector)
				if err != nil {
					return err
				}
				kind := sync.Incremental
				if full {
					kind = sync.FullReconciliation
				}
				start := time.Now()
				result := sync.New(logger).Run(ctx, pool, client, *connector, kind)
				logger.Info("sync run finished",
					"connector_id", connectorID, "kind", kind,
					"gaps_found", result.GapsFound, "upgrades_found", result.UpgradesFound,
					"duration", time.Since(start).Round(time.Millisecond))
				if len(result.Errors) > 0 {
					return fmt.Errorf("sync errors: %v", result.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&connectorID, "connector", 0, "Connector ID")
	cmd.Flags().BoolVar(&full, "full", false, "Run a full reconciliation sweep instead of incremental")
	return cmd
}

// --------------------------------------------------------------------------
// queue command
// --------------------------------------------------------------------------

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue and dispatch operations",
	}
	cmd.AddCommand(queueProcessCmd())
	return cmd
}

func queueProcessCmd() *cobra.Command {
	var connectorID int64
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one dispatch cycle for a connector immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectorID == 0 {
				return fmt.Errorf("--connector is required")
			}
			return runEnginectl(func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error {
				connector, err := storage.ConnectorByID(ctx, pool, connectorID)
				if err != nil {
					return fmt.Errorf("load connector: %w", err)
				}
				client, err := clientFor(cfg, secrets, *connector)
				if err != nil {
					return err
				}
				clock := timeutil.RealClock{}
				enforcer := throttle.New(cfg, clock)
				profile, err := enforcer.ResolveProfile(ctx, pool, connectorID)
				if err != nil {
					return fmt.Errorf("resolve throttle profile: %w", err)
				}
				engine := queue.New(cfg, enforcer, clock, logger)
				start := time.Now()
				result := engine.RunCycle(ctx, pool, client, *connector, *profile)
				logger.Info("queue process finished",
					"connector_id", connectorID,
					"dispatched", result.Dispatched, "reverted", result.Reverted,
					"cooldowned", result.Cooldowned, "exhausted", result.Exhausted,
					"duration", time.Since(start).Round(time.Millisecond))
				if len(result.Errors) > 0 {
					return fmt.Errorf("queue cycle errors: %v", result.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&connectorID, "connector", 0, "Connector ID")
	return cmd
}

// --------------------------------------------------------------------------
// maintenance command
// --------------------------------------------------------------------------

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run retention and compaction tasks",
	}
	cmd.AddCommand(maintenanceRunCmd())
	return cmd
}

func maintenanceRunCmd() *cobra.Command {
	var connectorID int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run history pruning and vacuum for a connector (0 = all enabled connectors)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnginectl(func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error {
				ids := []int64{}
				if connectorID != 0 {
					ids = append(ids, connectorID)
				} else {
					connectors, err := storage.EnabledConnectors(ctx, pool)
					if err != nil {
						return fmt.Errorf("load connectors: %w", err)
					}
					for _, c := range connectors {
						ids = append(ids, c.ID)
					}
				}
				runner := maintenance.New(cfg, timeutil.RealClock{}, logger)
				start := time.Now()
				result := runner.Run(ctx, pool, ids)
				logger.Info("maintenance run finished",
					"connectors", ids,
					"orphans_deleted", result.OrphansDeleted,
					"history_pruned", result.HistoryPruned,
					"logs_pruned", result.LogsPruned,
					"duration", time.Since(start).Round(time.Millisecond))
				if len(result.Errors) > 0 {
					return fmt.Errorf("maintenance errors: %v", result.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&connectorID, "connector", 0, "Connector ID (0 = every enabled connector)")
	return cmd
}

// --------------------------------------------------------------------------
// notify command
// --------------------------------------------------------------------------

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification fan-out operations",
	}
	cmd.AddCommand(notifyTestCmd())
	return cmd
}

func notifyTestCmd() *cobra.Command {
	var event string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Dispatch a synthetic event through every enabled channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnginectl(func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error {
				dispatcher := notify.NewDispatcher(notify.NewFactory(http.DefaultClient), secrets, timeutil.RealClock{}, logger)
				result := dispatcher.Dispatch(ctx, pool, model.AnalyticsEventType(event), map[string]any{
					"connectorName": "enginectl-test",
					"title":         "test-title",
				})
				logger.Info("notify test finished", "event", event, "sent", result.Sent, "deferred", result.Deferred, "failed", result.Failed)
				if len(result.Errors) > 0 {
					return fmt.Errorf("notify errors: %v", result.Errors)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&event, "event", string(model.EventSearchFailed), "Analytics event type to simulate")
	return cmd
}

// --------------------------------------------------------------------------
// throttle command
// --------------------------------------------------------------------------

func throttleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "throttle",
		Short: "Throttle enforcement inspection",
	}
	cmd.AddCommand(throttleStatusCmd())
	return cmd
}

func throttleStatusCmd() *cobra.Command {
	var connectorID int64
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a connector's current throttle window state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectorID == 0 {
				return fmt.Errorf("--connector is required")
			}
			return runEnginectl(func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error {
				state, err := storage.GetThrottleState(ctx, pool, connectorID)
				if err != nil {
					return err
				}
				logger.Info("throttle state",
					"connector_id", connectorID,
					"requests_this_minute", state.RequestsThisMinute,
					"requests_today", state.RequestsToday,
					"paused_until", state.PausedUntil,
					"pause_reason", state.PauseReason)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&connectorID, "connector", 0, "Connector ID")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

func clientFor(cfg *config.Config, secrets *secret.Store, c model.Connector) (*upstream.Client, error) {
	apiKey, err := secrets.Decrypt(c.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt connector %d api key: %w", c.ID, err)
	}
	return upstream.NewClient(upstream.Config{
		BaseURL:     c.URL,
		APIKey:      apiKey,
		UserAgent:   cfg.UpstreamUserAgent,
		Timeout:     cfg.UpstreamTimeout,
		MaxAttempts: cfg.UpstreamMaxAttempts,
	}, logger), nil
}

// runEnginectl handles config loading, DB connection, secret store setup,
// and signal-driven context cancellation for every subcommand.
func runEnginectl(fn func(ctx context.Context, cfg *config.Config, pool *storage.Pool, secrets *secret.Store) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	secrets, err := secret.NewStore(cfg.SecretKeyHex)
	if err != nil {
		return fmt.Errorf("init secret store: %w", err)
	}

	return fn(ctx, cfg, pool, secrets)
}
