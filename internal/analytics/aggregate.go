package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
)

// Aggregator rolls up raw events into the hourly and daily stats tables
// (spec §4.6). Every write is an UPSERT on the composite key, so re-running
// a bucket never duplicates state (§8 property 5).
type Aggregator struct{}

// NewAggregator constructs an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// HourlyResult summarizes one hourly-rollup pass.
type HourlyResult struct {
	ConnectorsProcessed int
	Errors              []string
}

// RunHourly computes the previous hour's bucket for every enabled connector
// (spec §4.9 "analytics-hourly-aggregation" job, fired at mm:05). now is the
// job's firing time; hourStart is derived as the start of the hour before it.
func (a *Aggregator) RunHourly(ctx context.Context, db storage.Querier, connectors []model.Connector, now time.Time) HourlyResult {
	hourStart := previousHourStart(now)
	hourEnd := hourStart.Add(time.Hour)

	var result HourlyResult
	for _, conn := range connectors {
		if err := a.rollupHour(ctx, db, conn.ID, hourStart, hourEnd); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("connector %d: %v", conn.ID, err))
			continue
		}
		result.ConnectorsProcessed++
	}
	return result
}

func (a *Aggregator) rollupHour(ctx context.Context, db storage.Querier, connectorID int64, hourStart, hourEnd time.Time) error {
	counts, err := storage.EventCountsByType(ctx, db, &connectorID, hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("event counts: %w", err)
	}
	avgDepth, _, err := storage.QueueDepthInRange(ctx, db, &connectorID, hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}

	stats := storage.HourlyStats{
		ConnectorID:        &connectorID,
		HourBucket:         hourStart,
		SearchesDispatched: counts[model.EventSearchDispatched],
		SearchesCompleted:  counts[model.EventSearchCompleted],
		SearchesFailed:     counts[model.EventSearchFailed],
		SearchesNoResults:  counts[model.EventSearchNoResults],
		GapsDiscovered:     counts[model.EventGapDiscovered],
		UpgradesDiscovered: counts[model.EventUpgradeDiscovered],
		AvgQueueDepth:      avgDepth,
	}
	if err := storage.UpsertHourlyStats(ctx, db, stats); err != nil {
		return fmt.Errorf("upsert hourly stats: %w", err)
	}
	return nil
}

// DailyResult summarizes one daily-rollup pass.
type DailyResult struct {
	ConnectorsProcessed int
	EventsPruned        int64
	Errors              []string
}

// RunDaily rolls up the previous day's 24 hourly rows for every enabled
// connector (spec §4.9 "analytics-daily-aggregation" job, fired at 01:00
// UTC), then prunes raw events older than retention.
func (a *Aggregator) RunDaily(ctx context.Context, db storage.Querier, connectors []model.Connector, now time.Time, eventRetention time.Duration) DailyResult {
	dayStart := previousDayStart(now)
	dayEnd := dayStart.Add(24 * time.Hour)

	var result DailyResult
	for _, conn := range connectors {
		if err := a.rollupDay(ctx, db, conn.ID, dayStart, dayEnd); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("connector %d: %v", conn.ID, err))
			continue
		}
		result.ConnectorsProcessed++
	}

	pruned, err := storage.PruneAnalyticsEvents(ctx, db, now.Add(-eventRetention))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("prune events: %v", err))
	}
	result.EventsPruned = pruned

	return result
}

func (a *Aggregator) rollupDay(ctx context.Context, db storage.Querier, connectorID int64, dayStart, dayEnd time.Time) error {
	rows, err := storage.HourlyRowsInDay(ctx, db, &connectorID, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("hourly rows in day: %w", err)
	}

	var daily storage.DailyStats
	daily.ConnectorID = &connectorID
	daily.DayBucket = dayStart

	var depthSum float64
	for _, h := range rows {
		daily.SearchesDispatched += h.SearchesDispatched
		daily.SearchesCompleted += h.SearchesCompleted
		daily.SearchesFailed += h.SearchesFailed
		daily.SearchesNoResults += h.SearchesNoResults
		daily.GapsDiscovered += h.GapsDiscovered
		daily.UpgradesDiscovered += h.UpgradesDiscovered
		depthSum += h.AvgQueueDepth
		if peak := int(h.AvgQueueDepth); peak > daily.PeakQueueDepth {
			daily.PeakQueueDepth = peak
		}
	}

	if err := storage.UpsertDailyStats(ctx, db, daily); err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

func previousHourStart(now time.Time) time.Time {
	now = now.UTC()
	thisHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	return thisHour.Add(-time.Hour)
}

func previousDayStart(now time.Time) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.Add(-24 * time.Hour)
}
