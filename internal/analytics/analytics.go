// Package analytics implements the raw-event collector and the hourly/daily
// roll-up aggregators (spec §4.6). The collector is fire-and-forget: a
// failed insert is logged and swallowed, never propagated to the caller's
// hot path, matching the teacher's best-effort background-write idiom
// (internal/fixture's "mark seeded" calls ignore their own errors the same
// way).
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

// Collector records polymorphic analytics events (spec §3 AnalyticsEvent).
type Collector struct {
	clock  timeutil.Clock
	logger *slog.Logger
}

// New constructs a Collector.
func New(clock timeutil.Clock, logger *slog.Logger) *Collector {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{clock: clock, logger: logger}
}

// record is the shared fire-and-forget insert path every typed helper below
// funnels through.
func (c *Collector) record(ctx context.Context, db storage.Querier, connectorID *int64, eventType model.AnalyticsEventType, data map[string]any) {
	if err := storage.InsertAnalyticsEvent(ctx, db, connectorID, eventType, data); err != nil {
		c.logger.Warn("analytics event insert failed", "event_type", eventType, "error", err)
	}
}

// GapDiscovered records a gap registry creation.
func (c *Collector) GapDiscovered(ctx context.Context, db storage.Querier, connectorID int64, contentType model.ContentType, contentID int64) {
	c.record(ctx, db, &connectorID, model.EventGapDiscovered, map[string]any{
		"contentType": string(contentType),
		"contentId":   contentID,
	})
}

// UpgradeDiscovered records an upgrade registry creation.
func (c *Collector) UpgradeDiscovered(ctx context.Context, db storage.Querier, connectorID int64, contentType model.ContentType, contentID int64) {
	c.record(ctx, db, &connectorID, model.EventUpgradeDiscovered, map[string]any{
		"contentType": string(contentType),
		"contentId":   contentID,
	})
}

// SearchDispatched records a successful dispatch (spec §4.2 dispatch
// contract step 3).
func (c *Collector) SearchDispatched(ctx context.Context, db storage.Querier, connectorID int64, registryID int64, contentType model.ContentType) {
	c.record(ctx, db, &connectorID, model.EventSearchDispatched, map[string]any{
		"registryId":  registryID,
		"contentType": string(contentType),
	})
}

// SearchCompleted records a command monitor terminal-success transition.
func (c *Collector) SearchCompleted(ctx context.Context, db storage.Querier, connectorID int64, commandID string) {
	c.record(ctx, db, &connectorID, model.EventSearchCompleted, map[string]any{
		"commandId": commandID,
	})
}

// SearchFailed records a dispatch failure classified into the taxonomy
// (spec §4.2 dispatch contract step 5).
func (c *Collector) SearchFailed(ctx context.Context, db storage.Querier, connectorID int64, registryID int64, reason string) {
	c.record(ctx, db, &connectorID, model.EventSearchFailed, map[string]any{
		"registryId": registryID,
		"reason":     reason,
	})
}

// SearchNoResults records a dispatch that the upstream reported as having
// no results (spec §4.2 dispatch contract step 5, §9 Open Question on
// "no results" markers).
func (c *Collector) SearchNoResults(ctx context.Context, db storage.Querier, connectorID int64, registryID int64) {
	c.record(ctx, db, &connectorID, model.EventSearchNoResults, map[string]any{
		"registryId": registryID,
	})
}

// QueueDepthSampled records one sample from the queue-depth sampler job
// (spec §4.6, §4.9 queue-depth-sampler).
func (c *Collector) QueueDepthSampled(ctx context.Context, db storage.Querier, connectorID int64, depth int, byState map[model.RegistryState]int) {
	data := map[string]any{"queueDepth": depth}
	for state, count := range byState {
		data[string(state)] = count
	}
	c.record(ctx, db, &connectorID, model.EventQueueDepthSampled, data)
}

// SyncCompleted records a successful sync pass summary (spec §4.3 Result).
func (c *Collector) SyncCompleted(ctx context.Context, db storage.Querier, connectorID int64, itemsSynced, gapsFound, upgradesFound, registriesCreated, registriesResolved int, durationMs int64) {
	c.record(ctx, db, &connectorID, model.EventSyncCompleted, map[string]any{
		"itemsSynced":        itemsSynced,
		"gapsFound":          gapsFound,
		"upgradesFound":      upgradesFound,
		"registriesCreated":  registriesCreated,
		"registriesResolved": registriesResolved,
		"durationMs":         durationMs,
	})
}

// SyncFailed records a sync pass that errored.
func (c *Collector) SyncFailed(ctx context.Context, db storage.Querier, connectorID int64, reason string) {
	c.record(ctx, db, &connectorID, model.EventSyncFailed, map[string]any{
		"reason": reason,
	})
}

// SampleQueueDepth reads the live queue depth for connectorID and emits one
// queueDepthSampled event (spec §4.6 queue-depth sampler, §4.9 cadence).
func (c *Collector) SampleQueueDepth(ctx context.Context, db storage.Querier, connectorID int64) error {
	byState, err := storage.QueueDepthByState(ctx, db, connectorID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range byState {
		total += n
	}
	c.QueueDepthSampled(ctx, db, connectorID, total, byState)
	return nil
}

// PruneEvents deletes raw events older than retention (spec §4.6 daily
// aggregator's retention side-effect).
func (c *Collector) PruneEvents(ctx context.Context, db storage.Querier, retention time.Duration) (int64, error) {
	return storage.PruneAnalyticsEvents(ctx, db, c.clock.Now().Add(-retention))
}
