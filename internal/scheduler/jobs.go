package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/engels74/comradarr-sub004/internal/commandmon"
	"github.com/engels74/comradarr-sub004/internal/maintenance"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/sync"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// BuiltinJobs returns the full built-in job table from spec §4.9, wired
// against d. Each job is independently registered so one job's cron
// expression or failure never affects another's schedule.
func BuiltinJobs(d *Deps) []Job {
	return []Job{
		{Name: "throttle-window-reset", Spec: "0 * * * * *", Fn: d.throttleWindowReset},
		{Name: "prowlarr-health-check", Spec: "0 */5 * * * *", Fn: d.indexerAggregatorHealthCheck},
		{Name: "connector-health-check", Spec: "0 */5 * * * *", Fn: d.connectorHealthCheck},
		{Name: "connector-reconnect", Spec: "*/30 * * * * *", Fn: d.connectorReconnect},
		{Name: "incremental-sync-sweep", Spec: "0 */15 * * * *", Fn: d.incrementalSyncSweep},
		{Name: "full-reconciliation", Spec: "0 0 3 * * *", Fn: d.fullReconciliation},
		{Name: "completion-snapshot", Spec: "0 0 4 * * *", Fn: d.completionSnapshot},
		{Name: "db-maintenance", Spec: "0 30 4 * * *", Fn: d.dbMaintenance},
		{Name: "queue-processor", Spec: "0 * * * * *", Fn: d.queueProcessor},
		{Name: "notification-batch-processor", Spec: "0 * * * * *", Fn: d.notificationBatchProcessor},
		{Name: "queue-depth-sampler", Spec: "0 */5 * * * *", Fn: d.queueDepthSampler},
		{Name: "analytics-hourly-aggregation", Spec: "0 5 * * * *", Fn: d.analyticsHourlyAggregation},
		{Name: "analytics-daily-aggregation", Spec: "0 0 1 * * *", Fn: d.analyticsDailyAggregation},
		{Name: "scheduled-backup", Spec: toSixField(d.Config.BackupCronExpression), Fn: d.scheduledBackup},
	}
}

func (d *Deps) throttleWindowReset(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("throttle window reset: %w", err)
	}
	ids := make([]int64, 0, len(connectors))
	for _, c := range connectors {
		ids = append(ids, c.ID)
	}
	summary, err := d.Enforcer.ResetExpiredWindows(ctx, d.DB, ids)
	if err != nil {
		return fmt.Errorf("reset expired windows: %w", err)
	}
	d.Logger.Info("throttle window reset", "minute_resets", summary.MinuteResets, "daily_resets", summary.DayResets)
	return nil
}

func (d *Deps) indexerAggregatorHealthCheck(ctx context.Context) error {
	if d.Config.IndexerAggregatorURL == "" {
		return nil // unconfigured — nothing to check
	}
	apiKey, err := d.Secrets.Decrypt(d.Config.IndexerAggregatorAPIKeyEncrypted)
	if err != nil {
		return fmt.Errorf("decrypt indexer aggregator api key: %w", err)
	}
	client := upstream.NewClient(upstream.Config{
		BaseURL: d.Config.IndexerAggregatorURL, APIKey: apiKey,
		UserAgent: d.Config.UpstreamUserAgent, Timeout: d.Config.UpstreamTimeout,
		MaxAttempts: d.Config.UpstreamMaxAttempts,
	}, d.Logger)
	if err := client.Ping(ctx); err != nil {
		d.Logger.Warn("indexer aggregator unreachable", "error", err)
		return nil // health check failures are expected, logged, never fatal
	}
	return nil
}

func (d *Deps) connectorHealthCheck(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("connector health check: %w", err)
	}
	now := d.Clock.Now()
	for _, c := range connectors {
		client, err := d.clientFor(c)
		if err != nil {
			d.Logger.Warn("connector client build failed", "connector_id", c.ID, "error", err)
			continue
		}
		if err := client.Ping(ctx); err != nil {
			state, gerr := storage.GetSyncState(ctx, d.DB, c.ID)
			if gerr != nil {
				d.Logger.Warn("get sync state failed", "connector_id", c.ID, "error", gerr)
				continue
			}
			next, health := d.Reconnect.Attempt(ctx, *state, client)
			if perr := storage.PutSyncState(ctx, d.DB, next); perr != nil {
				d.Logger.Warn("put sync state failed", "connector_id", c.ID, "error", perr)
			}
			if serr := storage.SetConnectorHealth(ctx, d.DB, c.ID, health, now); serr != nil {
				d.Logger.Warn("set connector health failed", "connector_id", c.ID, "error", serr)
			}
			continue
		}
		if err := storage.SetConnectorHealth(ctx, d.DB, c.ID, model.HealthHealthy, now); err != nil {
			d.Logger.Warn("set connector health failed", "connector_id", c.ID, "error", err)
		}
	}
	return nil
}

func (d *Deps) connectorReconnect(ctx context.Context) error {
	due, err := storage.DueSyncStates(ctx, d.DB)
	if err != nil {
		return fmt.Errorf("due sync states: %w", err)
	}
	for _, state := range due {
		connector, err := storage.ConnectorByID(ctx, d.DB, state.ConnectorID)
		if err != nil || connector == nil {
			continue
		}
		client, err := d.clientFor(*connector)
		if err != nil {
			d.Logger.Warn("connector client build failed", "connector_id", connector.ID, "error", err)
			continue
		}
		next, health := d.Reconnect.Attempt(ctx, state, client)
		if err := storage.PutSyncState(ctx, d.DB, next); err != nil {
			d.Logger.Warn("put sync state failed", "connector_id", connector.ID, "error", err)
		}
		if err := storage.SetConnectorHealth(ctx, d.DB, connector.ID, health, d.Clock.Now()); err != nil {
			d.Logger.Warn("set connector health failed", "connector_id", connector.ID, "error", err)
		}
	}
	return nil
}

func (d *Deps) runSweep(ctx context.Context, kind sync.Kind) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", kind, err)
	}
	for _, c := range connectors {
		d.syncOneConnector(ctx, c, kind)
	}
	return nil
}

// syncOneConnector runs one sync sweep against a single connector and
// records its outcome through analytics and notification fan-out. Shared
// between the built-in incremental/full-reconciliation jobs (runSweep)
// and per-row dynamic schedules (dynamic.go's runDynamicSweep), which
// differ only in how they pick their connector set.
func (d *Deps) syncOneConnector(ctx context.Context, c model.Connector, kind sync.Kind) {
	client, err := d.clientFor(c)
	if err != nil {
		d.Logger.Warn("connector client build failed", "connector_id", c.ID, "error", err)
		return
	}
	result := d.Syncer.Run(ctx, d.DB, client, c, kind)
	if d.Collector != nil {
		if len(result.Errors) > 0 {
			d.Collector.SyncFailed(ctx, d.DB, c.ID, result.Errors[0])
		} else {
			d.Collector.SyncCompleted(ctx, d.DB, c.ID, result.ItemsSynced, result.GapsFound,
				result.UpgradesFound, result.RegistriesCreated, result.RegistriesResolved,
				result.Duration.Milliseconds())
		}
	}
	if d.Dispatcher != nil {
		eventType := model.EventSyncCompleted
		if len(result.Errors) > 0 {
			eventType = model.EventSyncFailed
		}
		d.Dispatcher.Dispatch(ctx, d.DB, eventType, map[string]any{
			"connectorId": float64(c.ID), "reason": firstOrEmpty(result.Errors),
		})
	}
}

func (d *Deps) incrementalSyncSweep(ctx context.Context) error {
	return d.runSweep(ctx, sync.Incremental)
}

func (d *Deps) fullReconciliation(ctx context.Context) error {
	return d.runSweep(ctx, sync.FullReconciliation)
}

func (d *Deps) completionSnapshot(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("completion snapshot: %w", err)
	}
	for _, c := range connectors {
		if err := d.Collector.SampleQueueDepth(ctx, d.DB, c.ID); err != nil {
			d.Logger.Warn("completion snapshot sample failed", "connector_id", c.ID, "error", err)
		}
	}
	return nil
}

func (d *Deps) dbMaintenance(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("db maintenance: %w", err)
	}
	ids := make([]int64, 0, len(connectors))
	for _, c := range connectors {
		ids = append(ids, c.ID)
	}
	result := d.Maintainer.Run(ctx, d.DB, ids)
	if len(result.Errors) > 0 {
		return fmt.Errorf("maintenance errors: %v", result.Errors)
	}
	d.Logger.Info("maintenance complete",
		"orphans_deleted", result.OrphansDeleted, "history_pruned", result.HistoryPruned,
		"logs_pruned", result.LogsPruned, "backlog_recovered", result.BacklogRecovered)
	return nil
}

func (d *Deps) queueProcessor(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("queue processor: %w", err)
	}
	for _, c := range connectors {
		client, err := d.clientFor(c)
		if err != nil {
			d.Logger.Warn("connector client build failed", "connector_id", c.ID, "error", err)
			continue
		}
		profile, err := d.Enforcer.ResolveProfile(ctx, d.DB, c.ID)
		if err != nil {
			d.Logger.Warn("resolve profile failed", "connector_id", c.ID, "error", err)
			continue
		}
		result := d.Queue.RunCycle(ctx, d.DB, client, c, *profile)
		if len(result.Errors) > 0 {
			d.Logger.Warn("queue cycle errors", "connector_id", c.ID, "errors", result.Errors)
		}

		poll := d.pollCommands(ctx, client, c.ID)
		if len(poll.Errors) > 0 {
			d.Logger.Warn("command poll errors", "connector_id", c.ID, "errors", poll.Errors)
		}
	}
	return nil
}

func (d *Deps) notificationBatchProcessor(ctx context.Context) error {
	channels, err := storage.EnabledNotificationChannels(ctx, d.DB)
	if err != nil {
		return fmt.Errorf("notification batch processor: %w", err)
	}
	result := d.Batcher.Run(ctx, d.DB, channels)
	if len(result.Errors) > 0 {
		d.Logger.Warn("notification batching errors", "errors", result.Errors)
	}
	return nil
}

func (d *Deps) queueDepthSampler(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("queue depth sampler: %w", err)
	}
	for _, c := range connectors {
		if err := d.Collector.SampleQueueDepth(ctx, d.DB, c.ID); err != nil {
			d.Logger.Warn("queue depth sample failed", "connector_id", c.ID, "error", err)
		}
	}
	return nil
}

func (d *Deps) analyticsHourlyAggregation(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("analytics hourly aggregation: %w", err)
	}
	result := d.Aggregator.RunHourly(ctx, d.DB, connectors, d.Clock.Now())
	if len(result.Errors) > 0 {
		return fmt.Errorf("hourly aggregation errors: %v", result.Errors)
	}
	return nil
}

func (d *Deps) analyticsDailyAggregation(ctx context.Context) error {
	connectors, err := d.enabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("analytics daily aggregation: %w", err)
	}
	result := d.Aggregator.RunDaily(ctx, d.DB, connectors, d.Clock.Now(), d.Config.AnalyticsEventRetention)
	if len(result.Errors) > 0 {
		return fmt.Errorf("daily aggregation errors: %v", result.Errors)
	}
	return nil
}

func (d *Deps) scheduledBackup(ctx context.Context) error {
	path, err := maintenance.Backup(ctx, d.Config.DatabaseURL, d.Config.BackupDir, d.Config.BackupRetentionCount, d.Clock.Now())
	if err != nil {
		return fmt.Errorf("scheduled backup: %w", err)
	}
	d.Logger.Info("backup complete", "path", path)
	return nil
}

// pollCommands implements the command-monitor poll invoked alongside the
// queue processor per connector (spec §4.5 command monitor), an unexported
// helper for the queue-processor job to fold in after dispatch.
func (d *Deps) pollCommands(ctx context.Context, client *upstream.Client, connectorID int64) commandmon.PollResult {
	return d.Commands.Poll(ctx, d.DB, client, connectorID)
}

func firstOrEmpty(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	return errs[0]
}

// toSixField prepends a leading "0" seconds field to a standard 5-field
// cron expression, since the scheduler is built with cron.WithSeconds()
// (spec §4.9 BackupCronExpression is configured in the conventional
// 5-field form).
func toSixField(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 6 {
		return expr
	}
	return "0 " + expr
}
