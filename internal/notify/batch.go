package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/secret"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

// batchableEventTypes are the analytics event types the batcher sweeps for
// pending rows every minute (spec §4.8 Batcher: "every batchable event
// type").
var batchableEventTypes = []model.AnalyticsEventType{
	model.EventGapDiscovered,
	model.EventUpgradeDiscovered,
	model.EventSearchDispatched,
	model.EventSearchCompleted,
	model.EventSearchFailed,
	model.EventSearchNoResults,
	model.EventSyncCompleted,
	model.EventSyncFailed,
}

// Batcher aggregates pending notifications for batching-enabled channels
// into one send per window (spec §4.8 Batcher, §8 property 7/S6).
type Batcher struct {
	factory *Factory
	secrets *secret.Store
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewBatcher constructs a Batcher.
func NewBatcher(factory *Factory, secrets *secret.Store, clock timeutil.Clock, logger *slog.Logger) *Batcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{factory: factory, secrets: secrets, clock: clock, logger: logger}
}

// BatchResult summarizes one batcher sweep.
type BatchResult struct {
	BatchesSent int
	RowsBatched int
	RowsFailed  int
	Errors      []string
}

// Run performs one per-minute sweep over every batching channel (spec
// §4.9 "notification-batch-processor" job).
func (b *Batcher) Run(ctx context.Context, db storage.Querier, channels []model.NotificationChannel) BatchResult {
	var result BatchResult
	now := b.clock.Now()

	for _, ch := range channels {
		if !ch.BatchingEnabled {
			continue
		}
		if InQuietHours(ch.QuietHoursEnabled, ch.QuietHoursStart, ch.QuietHoursEnd, ch.QuietHoursTimezone, now) {
			continue
		}

		for _, eventType := range batchableEventTypes {
			pending, err := storage.PendingNotificationsForChannel(ctx, db, ch.ID, eventType)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("channel %d pending: %v", ch.ID, err))
				continue
			}
			if len(pending) == 0 {
				continue
			}
			if now.Sub(pending[0].CreatedAt) < time.Duration(ch.BatchingWindowSeconds)*time.Second {
				continue
			}

			b.flush(ctx, db, ch, eventType, pending, &result)
		}
	}
	return result
}

func (b *Batcher) flush(ctx context.Context, db storage.Querier, ch model.NotificationChannel, eventType model.AnalyticsEventType, pending []model.NotificationHistory, result *BatchResult) {
	now := b.clock.Now()
	payload := aggregatePayload(eventType, pending, now)

	sender, ok := b.factory.For(ch.Type)
	if !ok {
		result.Errors = append(result.Errors, fmt.Sprintf("no sender for channel %d type %s", ch.ID, ch.Type))
		return
	}

	sensitive, err := decryptChannelSecret(b.secrets, ch)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("channel %d decrypt: %v", ch.ID, err))
		return
	}

	send := sender.Send(ctx, ch, sensitive, payload)
	ids := make([]int64, 0, len(pending))
	for _, row := range pending {
		ids = append(ids, row.ID)
	}

	if !send.Success {
		for _, id := range ids {
			_ = storage.MarkNotificationFailed(ctx, db, id)
		}
		result.RowsFailed += len(ids)
		result.Errors = append(result.Errors, fmt.Sprintf("channel %d batch send: %s", ch.ID, send.Error))
		return
	}

	batchID := uuid.NewString()
	if err := storage.MarkNotificationsBatched(ctx, db, ids, batchID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("channel %d mark batched: %v", ch.ID, err))
		return
	}
	result.BatchesSent++
	result.RowsBatched += len(ids)
}

// aggregatePayload builds a single payload summarizing every pending row
// (spec §4.8 "build an aggregate payload from all eligible rows", §6
// "Aggregate payload — a single notification carrying a summary of N
// batched events").
func aggregatePayload(eventType model.AnalyticsEventType, rows []model.NotificationHistory, at time.Time) Payload {
	fields := make([]Field, 0, len(rows))
	for i, row := range rows {
		title, _ := titleAndMessage(eventType, row.Payload)
		fields = append(fields, Field{Name: fmt.Sprintf("#%d %s", i+1, title), Value: row.CreatedAt.Format(time.RFC3339)})
	}
	return Payload{
		Title:     fmt.Sprintf("%d %s events", len(rows), eventType),
		Message:   fmt.Sprintf("Batched summary of %d events", len(rows)),
		Fields:    fields,
		Timestamp: at,
	}
}

func decryptChannelSecret(secrets *secret.Store, ch model.NotificationChannel) (map[string]string, error) {
	if ch.SensitiveConfigEncrypted == "" {
		return map[string]string{}, nil
	}
	plaintext, err := secrets.Decrypt(ch.SensitiveConfigEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt sensitive config: %w", err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(plaintext), &out); err != nil {
		return nil, fmt.Errorf("unmarshal sensitive config: %w", err)
	}
	return out, nil
}
