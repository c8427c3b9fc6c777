// Package storage provides a pgxpool-based connection pool with prepared
// statement registration, generalizing the teacher's internal/db package
// from a single-service API store into the full entity set spec §3 names.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/engels74/comradarr-sub004/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers the statements hot paths reuse across
// every scheduled job. Less latency-sensitive, one-off admin queries are
// issued inline instead of being added here.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		"health_check": "SELECT 1",

		"connector_by_id": `SELECT id, type, name, url, api_key_encrypted, enabled,
			health_status, last_sync_at, throttle_profile_id FROM connectors WHERE id = $1`,
		"connectors_enabled": `SELECT id, type, name, url, api_key_encrypted, enabled,
			health_status, last_sync_at, throttle_profile_id FROM connectors WHERE enabled = true`,
		"connectors_unhealthy": `SELECT id, type, name, url, api_key_encrypted, enabled,
			health_status, last_sync_at, throttle_profile_id
			FROM connectors WHERE enabled = true AND health_status IN ('offline', 'unhealthy')`,
		"connector_set_health": `UPDATE connectors SET health_status = $2, last_sync_at = $3 WHERE id = $1`,

		"throttle_state_get": `SELECT connector_id, requests_this_minute, requests_today,
			minute_window_start, day_window_start, paused_until, pause_reason, last_request_at
			FROM throttle_state WHERE connector_id = $1 FOR UPDATE`,
		"throttle_state_upsert": `INSERT INTO throttle_state
			(connector_id, requests_this_minute, requests_today, minute_window_start,
			 day_window_start, paused_until, pause_reason, last_request_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (connector_id) DO UPDATE SET
			requests_this_minute = EXCLUDED.requests_this_minute,
			requests_today = EXCLUDED.requests_today,
			minute_window_start = EXCLUDED.minute_window_start,
			day_window_start = EXCLUDED.day_window_start,
			paused_until = EXCLUDED.paused_until,
			pause_reason = EXCLUDED.pause_reason,
			last_request_at = EXCLUDED.last_request_at`,
		"throttle_profile_for_connector": `SELECT tp.id, tp.name, tp.requests_per_minute,
			tp.daily_budget, tp.batch_size, tp.batch_cooldown_seconds,
			tp.rate_limit_pause_seconds, tp.is_default
			FROM throttle_profiles tp
			JOIN connectors c ON c.throttle_profile_id = tp.id
			WHERE c.id = $1`,
		"throttle_profile_default": `SELECT id, name, requests_per_minute, daily_budget,
			batch_size, batch_cooldown_seconds, rate_limit_pause_seconds, is_default
			FROM throttle_profiles WHERE is_default = true LIMIT 1`,

		"registry_upsert": `INSERT INTO search_registry
			(connector_id, content_type, content_id, search_type, state, attempt_count,
			 next_eligible_at, backlog_tier, created_at, updated_at)
			VALUES ($1,$2,$3,$4,'pending',0,NULL,0,NOW(),NOW())
			ON CONFLICT (connector_id, content_type, content_id, search_type) DO NOTHING
			RETURNING id`,
		"registry_delete_resolved_gap": `DELETE FROM search_registry sr
			USING episodes e WHERE sr.content_type = 'episode' AND sr.search_type = 'gap'
			AND sr.content_id = e.id AND sr.connector_id = $1 AND e.has_file = true`,
		"registry_delete_resolved_gap_movie": `DELETE FROM search_registry sr
			USING movies m WHERE sr.content_type = 'movie' AND sr.search_type = 'gap'
			AND sr.content_id = m.id AND sr.connector_id = $1 AND m.has_file = true`,
		"registry_delete_resolved_upgrade": `DELETE FROM search_registry sr
			USING episodes e WHERE sr.content_type = 'episode' AND sr.search_type = 'upgrade'
			AND sr.content_id = e.id AND sr.connector_id = $1 AND e.quality_cutoff_not_met = false`,
		"registry_delete_resolved_upgrade_movie": `DELETE FROM search_registry sr
			USING movies m WHERE sr.content_type = 'movie' AND sr.search_type = 'upgrade'
			AND sr.content_id = m.id AND sr.connector_id = $1 AND m.quality_cutoff_not_met = false`,
		"registry_revert_orphans": `UPDATE search_registry SET state = 'queued', updated_at = NOW()
			WHERE state = 'searching' AND updated_at < $1`,
		"registry_reenqueue_cooldown": `UPDATE search_registry SET state = 'queued', updated_at = NOW()
			WHERE state = 'cooldown' AND next_eligible_at <= NOW()`,
		"registry_backlog_recover": `UPDATE search_registry
			SET state = 'cooldown', backlog_tier = GREATEST(1, backlog_tier), attempt_count = 0,
				next_eligible_at = $2, updated_at = NOW()
			WHERE state = 'exhausted' AND connector_id = $1`,
		"registry_set_searching": `UPDATE search_registry SET state = 'searching', updated_at = NOW()
			WHERE id = $1 AND state = 'queued'`,
		"registry_revert_queued": `UPDATE search_registry SET state = 'queued', updated_at = NOW() WHERE id = $1`,
		"registry_return_pending": `UPDATE search_registry SET state = 'pending', attempt_count = 0,
			next_eligible_at = NULL, updated_at = NOW() WHERE id = $1`,
		"registry_enqueue_pending": `UPDATE search_registry SET state = 'queued', updated_at = NOW()
			WHERE state = 'pending' AND connector_id = $1`,
		"registry_cooldown": `UPDATE search_registry SET state = 'cooldown', attempt_count = $2,
			next_eligible_at = $3, updated_at = NOW() WHERE id = $1`,
		"registry_exhaust": `UPDATE search_registry SET state = 'exhausted', attempt_count = $2,
			updated_at = NOW() WHERE id = $1`,
		"registry_orphan_cleanup_episode": `DELETE FROM search_registry sr
			WHERE sr.content_type = 'episode' AND sr.connector_id = $1
			AND NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = sr.content_id AND e.connector_id = $1)`,
		"registry_orphan_cleanup_movie": `DELETE FROM search_registry sr
			WHERE sr.content_type = 'movie' AND sr.connector_id = $1
			AND NOT EXISTS (SELECT 1 FROM movies m WHERE m.id = sr.content_id AND m.connector_id = $1)`,

		"pending_command_insert": `INSERT INTO pending_commands
			(connector_id, command_id, content_type, content_id, command_status, dispatched_at)
			VALUES ($1,$2,$3,$4,$5,NOW())`,
		"pending_command_open": `SELECT id, connector_id, command_id, content_type, content_id,
			command_status, dispatched_at FROM pending_commands
			WHERE connector_id = $1 AND command_status NOT IN ('completed', 'failed')`,
		"pending_command_set_status": `UPDATE pending_commands SET command_status = $2 WHERE id = $1`,
		"pending_command_force_close": `UPDATE pending_commands SET command_status = 'failed'
			WHERE command_status NOT IN ('completed', 'failed') AND dispatched_at < $1`,
		"pending_command_prune": `DELETE FROM pending_commands
			WHERE command_status IN ('completed', 'failed') AND dispatched_at < $1`,

		"analytics_event_insert": `INSERT INTO analytics_events
			(connector_id, event_type, event_data, created_at) VALUES ($1,$2,$3,NOW())`,
		"analytics_event_prune": `DELETE FROM analytics_events WHERE created_at < $1`,
		"analytics_event_counts_by_type": `SELECT event_type, COUNT(*) FROM analytics_events
			WHERE (connector_id = $1 OR $1 IS NULL) AND created_at >= $2 AND created_at < $3
			GROUP BY event_type`,
		"analytics_queue_depth_in_range": `SELECT COALESCE(AVG((event_data->>'queueDepth')::float8), 0),
			COALESCE(MAX((event_data->>'queueDepth')::int), 0)
			FROM analytics_events
			WHERE event_type = 'queueDepthSampled' AND (connector_id = $1 OR $1 IS NULL)
			AND created_at >= $2 AND created_at < $3`,
		"analytics_hourly_in_day": `SELECT searches_dispatched, searches_completed, searches_failed,
			searches_no_results, gaps_discovered, upgrades_discovered, avg_queue_depth
			FROM analytics_hourly_stats
			WHERE (connector_id = $1 OR $1 IS NULL) AND hour_bucket >= $2 AND hour_bucket < $3`,
		"analytics_hourly_upsert": `INSERT INTO analytics_hourly_stats
			(connector_id, hour_bucket, searches_dispatched, searches_completed, searches_failed,
			 searches_no_results, gaps_discovered, upgrades_discovered, avg_queue_depth)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (connector_id, hour_bucket) DO UPDATE SET
			searches_dispatched = EXCLUDED.searches_dispatched,
			searches_completed = EXCLUDED.searches_completed,
			searches_failed = EXCLUDED.searches_failed,
			searches_no_results = EXCLUDED.searches_no_results,
			gaps_discovered = EXCLUDED.gaps_discovered,
			upgrades_discovered = EXCLUDED.upgrades_discovered,
			avg_queue_depth = EXCLUDED.avg_queue_depth`,
		"analytics_daily_upsert": `INSERT INTO analytics_daily_stats
			(connector_id, day_bucket, searches_dispatched, searches_completed, searches_failed,
			 searches_no_results, gaps_discovered, upgrades_discovered, peak_queue_depth)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (connector_id, day_bucket) DO UPDATE SET
			searches_dispatched = EXCLUDED.searches_dispatched,
			searches_completed = EXCLUDED.searches_completed,
			searches_failed = EXCLUDED.searches_failed,
			searches_no_results = EXCLUDED.searches_no_results,
			gaps_discovered = EXCLUDED.gaps_discovered,
			upgrades_discovered = EXCLUDED.upgrades_discovered,
			peak_queue_depth = EXCLUDED.peak_queue_depth`,

		"notification_channels_enabled": `SELECT id, type, config, sensitive_config_encrypted,
			batching_enabled, batching_window_seconds, quiet_hours_enabled, quiet_hours_start,
			quiet_hours_end, quiet_hours_timezone FROM notification_channels`,
		"notification_history_insert": `INSERT INTO notification_history
			(channel_id, event_type, payload, status, batch_id, created_at)
			VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		"notification_history_pending_for_channel": `SELECT id, channel_id, event_type, payload,
			status, batch_id, created_at, sent_at FROM notification_history
			WHERE channel_id = $1 AND event_type = $2 AND status = 'pending' ORDER BY created_at`,
		"notification_history_mark_sent": `UPDATE notification_history SET status = 'sent', sent_at = NOW() WHERE id = $1`,
		"notification_history_mark_failed": `UPDATE notification_history SET status = 'failed' WHERE id = $1`,
		"notification_history_mark_batched": `UPDATE notification_history SET status = 'batched', batch_id = $2, sent_at = NOW()
			WHERE id = ANY($1)`,

		"sync_state_get": `SELECT connector_id, reconnect_attempts, next_reconnect_at,
			reconnect_started_at, last_reconnect_error, reconnect_paused
			FROM sync_state WHERE connector_id = $1`,
		"sync_state_upsert": `INSERT INTO sync_state
			(connector_id, reconnect_attempts, next_reconnect_at, reconnect_started_at,
			 last_reconnect_error, reconnect_paused)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (connector_id) DO UPDATE SET
			reconnect_attempts = EXCLUDED.reconnect_attempts,
			next_reconnect_at = EXCLUDED.next_reconnect_at,
			reconnect_started_at = EXCLUDED.reconnect_started_at,
			last_reconnect_error = EXCLUDED.last_reconnect_error,
			reconnect_paused = EXCLUDED.reconnect_paused`,
		"sync_state_due": `SELECT connector_id, reconnect_attempts, next_reconnect_at,
			reconnect_started_at, last_reconnect_error, reconnect_paused
			FROM sync_state WHERE next_reconnect_at <= NOW() AND reconnect_paused = false`,

		"schedules_enabled": `SELECT id, name, cron_expression, timezone, sweep_type,
			connector_id, enabled, next_run_at FROM schedules WHERE enabled = true`,
		"schedule_set_next_run": `UPDATE schedules SET next_run_at = $2 WHERE id = $1`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
