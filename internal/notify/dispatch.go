package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/secret"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

// Dispatcher fans out a single event to every enabled, subscribed channel
// (spec §4.8 Dispatcher).
type Dispatcher struct {
	factory *Factory
	secrets *secret.Store
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(factory *Factory, secrets *secret.Store, clock timeutil.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{factory: factory, secrets: secrets, clock: clock, logger: logger}
}

// DispatchResult summarizes one dispatch() call across every channel.
type DispatchResult struct {
	Sent     int
	Deferred int
	Failed   int
	Errors   []string
}

// Dispatch builds a payload from eventType/data and routes it to every
// enabled channel per spec §4.8: deferred (written pending) when batching
// or in quiet hours, sent synchronously otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, db storage.Querier, eventType model.AnalyticsEventType, data map[string]any) DispatchResult {
	var result DispatchResult
	now := d.clock.Now()
	payload := Template(eventType, data, now)

	channels, err := storage.EnabledNotificationChannels(ctx, db)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("enabled channels: %v", err))
		return result
	}

	for _, ch := range channels {
		quiet := InQuietHours(ch.QuietHoursEnabled, ch.QuietHoursStart, ch.QuietHoursEnd, ch.QuietHoursTimezone, now)

		if ch.BatchingEnabled {
			if _, err := storage.InsertNotificationHistory(ctx, db, pendingHistory(ch.ID, eventType, payload)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("channel %d insert pending: %v", ch.ID, err))
				continue
			}
			result.Deferred++
			continue
		}

		if quiet {
			if _, err := storage.InsertNotificationHistory(ctx, db, pendingHistory(ch.ID, eventType, payload)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("channel %d defer quiet hours: %v", ch.ID, err))
				continue
			}
			result.Deferred++
			continue
		}

		if d.sendNow(ctx, db, ch, eventType, payload) {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	return result
}

// sendNow sends synchronously and records the outcome; returns true on
// success.
func (d *Dispatcher) sendNow(ctx context.Context, db storage.Querier, ch model.NotificationChannel, eventType model.AnalyticsEventType, payload Payload) bool {
	id, err := storage.InsertNotificationHistory(ctx, db, pendingHistory(ch.ID, eventType, payload))
	if err != nil {
		d.logger.Warn("notification history insert failed", "channel_id", ch.ID, "error", err)
		return false
	}

	sender, ok := d.factory.For(ch.Type)
	if !ok {
		d.logger.Warn("no sender for channel type", "channel_id", ch.ID, "type", ch.Type)
		_ = storage.MarkNotificationFailed(ctx, db, id)
		return false
	}

	sensitive, err := d.decryptSensitive(ch)
	if err != nil {
		d.logger.Warn("decrypt channel secret failed", "channel_id", ch.ID, "error", err)
		_ = storage.MarkNotificationFailed(ctx, db, id)
		return false
	}

	result := sender.Send(ctx, ch, sensitive, payload)
	if result.Success {
		if err := storage.MarkNotificationSent(ctx, db, id); err != nil {
			d.logger.Warn("mark notification sent failed", "channel_id", ch.ID, "error", err)
		}
		return true
	}

	d.logger.Warn("channel send failed", "channel_id", ch.ID, "error", result.Error)
	_ = storage.MarkNotificationFailed(ctx, db, id)
	return false
}

func (d *Dispatcher) decryptSensitive(ch model.NotificationChannel) (map[string]string, error) {
	return decryptChannelSecret(d.secrets, ch)
}

func pendingHistory(channelID int64, eventType model.AnalyticsEventType, payload Payload) model.NotificationHistory {
	return model.NotificationHistory{
		ChannelID: channelID,
		EventType: eventType,
		Status:    model.NotificationPending,
		Payload:   payloadToMap(payload),
	}
}

func payloadToMap(p Payload) map[string]any {
	fields := make([]map[string]any, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, map[string]any{"name": f.Name, "value": f.Value, "inline": f.Inline})
	}
	return map[string]any{
		"title":     p.Title,
		"message":   p.Message,
		"fields":    fields,
		"color":     p.Color,
		"timestamp": p.Timestamp.Format(time.RFC3339),
	}
}
