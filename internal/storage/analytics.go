package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// InsertAnalyticsEvent records a single polymorphic analytics row (spec §4.6,
// §8 property 5).
func InsertAnalyticsEvent(ctx context.Context, db Querier, connectorID *int64, eventType model.AnalyticsEventType, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal analytics event data: %w", err)
	}
	_, err = db.Exec(ctx, "analytics_event_insert", connectorID, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// PruneAnalyticsEvents deletes raw event rows older than olderThan, keeping
// only the rolled-up hourly/daily aggregates (spec §4.7 retention).
func PruneAnalyticsEvents(ctx context.Context, db Querier, olderThan time.Time) (int64, error) {
	tag, err := db.Exec(ctx, "analytics_event_prune", olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune analytics events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HourlyStats is the aggregate row written by the hourly rollup job.
type HourlyStats struct {
	ConnectorID        *int64
	HourBucket         time.Time
	SearchesDispatched int
	SearchesCompleted  int
	SearchesFailed     int
	SearchesNoResults  int
	GapsDiscovered     int
	UpgradesDiscovered int
	AvgQueueDepth      float64
}

// UpsertHourlyStats idempotently writes (or overwrites) the hour bucket so
// the aggregator can safely re-run after a crash mid-window.
func UpsertHourlyStats(ctx context.Context, db Querier, s HourlyStats) error {
	_, err := db.Exec(ctx, "analytics_hourly_upsert",
		s.ConnectorID, s.HourBucket, s.SearchesDispatched, s.SearchesCompleted,
		s.SearchesFailed, s.SearchesNoResults, s.GapsDiscovered, s.UpgradesDiscovered,
		s.AvgQueueDepth)
	if err != nil {
		return fmt.Errorf("upsert hourly stats: %w", err)
	}
	return nil
}

// DailyStats is the aggregate row written by the daily rollup job.
type DailyStats struct {
	ConnectorID        *int64
	DayBucket          time.Time
	SearchesDispatched int
	SearchesCompleted  int
	SearchesFailed     int
	SearchesNoResults  int
	GapsDiscovered     int
	UpgradesDiscovered int
	PeakQueueDepth     int
}

// UpsertDailyStats idempotently writes the day bucket.
func UpsertDailyStats(ctx context.Context, db Querier, s DailyStats) error {
	_, err := db.Exec(ctx, "analytics_daily_upsert",
		s.ConnectorID, s.DayBucket, s.SearchesDispatched, s.SearchesCompleted,
		s.SearchesFailed, s.SearchesNoResults, s.GapsDiscovered, s.UpgradesDiscovered,
		s.PeakQueueDepth)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

// EventCountsByType tallies raw analytics events of every type within
// [from, to) for connectorID (nil = all connectors), feeding the hourly
// aggregator (spec §4.6).
func EventCountsByType(ctx context.Context, db Querier, connectorID *int64, from, to time.Time) (map[model.AnalyticsEventType]int, error) {
	rows, err := db.Query(ctx, "analytics_event_counts_by_type", connectorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("event counts by type: %w", err)
	}
	defer rows.Close()

	out := make(map[model.AnalyticsEventType]int)
	for rows.Next() {
		var t model.AnalyticsEventType
		var count int
		if err := rows.Scan(&t, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out[t] = count
	}
	return out, rows.Err()
}

// QueueDepthInRange returns the average and peak queueDepthSampled value
// within [from, to) for connectorID (nil = all connectors).
func QueueDepthInRange(ctx context.Context, db Querier, connectorID *int64, from, to time.Time) (avg float64, peak int, err error) {
	err = db.QueryRow(ctx, "analytics_queue_depth_in_range", connectorID, from, to).Scan(&avg, &peak)
	if err != nil {
		return 0, 0, fmt.Errorf("queue depth in range: %w", err)
	}
	return avg, peak, nil
}

// HourlyRowsInDay returns the raw hourly-stat rows within [from, to) for
// the daily rollup job, which takes the largest hourly avg_queue_depth as
// the day's PeakQueueDepth; the daily row stores no average queue depth.
func HourlyRowsInDay(ctx context.Context, db Querier, connectorID *int64, from, to time.Time) ([]HourlyStats, error) {
	rows, err := db.Query(ctx, "analytics_hourly_in_day", connectorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("hourly rows in day: %w", err)
	}
	defer rows.Close()

	var out []HourlyStats
	for rows.Next() {
		var s HourlyStats
		if err := rows.Scan(&s.SearchesDispatched, &s.SearchesCompleted, &s.SearchesFailed,
			&s.SearchesNoResults, &s.GapsDiscovered, &s.UpgradesDiscovered, &s.AvgQueueDepth); err != nil {
			return nil, fmt.Errorf("scan hourly row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
