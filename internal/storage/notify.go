package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// EnabledNotificationChannels returns every configured delivery destination.
func EnabledNotificationChannels(ctx context.Context, db Querier) ([]model.NotificationChannel, error) {
	rows, err := db.Query(ctx, "notification_channels_enabled")
	if err != nil {
		return nil, fmt.Errorf("enabled notification channels: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationChannel
	for rows.Next() {
		var c model.NotificationChannel
		var config []byte
		if err := rows.Scan(&c.ID, &c.Type, &config, &c.SensitiveConfigEncrypted,
			&c.BatchingEnabled, &c.BatchingWindowSeconds, &c.QuietHoursEnabled,
			&c.QuietHoursStart, &c.QuietHoursEnd, &c.QuietHoursTimezone); err != nil {
			return nil, fmt.Errorf("scan notification channel: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &c.Config); err != nil {
				return nil, fmt.Errorf("unmarshal channel %d config: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertNotificationHistory records a dispatch attempt and returns its id.
func InsertNotificationHistory(ctx context.Context, db Querier, h model.NotificationHistory) (int64, error) {
	payload, err := json.Marshal(h.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal notification payload: %w", err)
	}
	var id int64
	err = db.QueryRow(ctx, "notification_history_insert",
		h.ChannelID, h.EventType, payload, h.Status, h.BatchID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert notification history: %w", err)
	}
	return id, nil
}

// PendingNotificationsForChannel returns pending rows for a channel/event
// type pair — the batcher's per-minute sweep input (spec §4.8 batching).
func PendingNotificationsForChannel(ctx context.Context, db Querier, channelID int64, eventType model.AnalyticsEventType) ([]model.NotificationHistory, error) {
	rows, err := db.Query(ctx, "notification_history_pending_for_channel", channelID, eventType)
	if err != nil {
		return nil, fmt.Errorf("pending notifications for channel %d: %w", channelID, err)
	}
	defer rows.Close()

	var out []model.NotificationHistory
	for rows.Next() {
		var h model.NotificationHistory
		var payload []byte
		if err := rows.Scan(&h.ID, &h.ChannelID, &h.EventType, &payload, &h.Status,
			&h.BatchID, &h.CreatedAt, &h.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification history: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &h.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal notification %d payload: %w", h.ID, err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkNotificationSent flags a history row as successfully delivered.
func MarkNotificationSent(ctx context.Context, db Querier, id int64) error {
	_, err := db.Exec(ctx, "notification_history_mark_sent", id)
	return err
}

// MarkNotificationFailed flags a history row as undeliverable.
func MarkNotificationFailed(ctx context.Context, db Querier, id int64) error {
	_, err := db.Exec(ctx, "notification_history_mark_failed", id)
	return err
}

// MarkNotificationsBatched groups the given history ids under a shared
// batchId and marks them delivered as part of that batch.
func MarkNotificationsBatched(ctx context.Context, db Querier, ids []int64, batchID string) error {
	_, err := db.Exec(ctx, "notification_history_mark_batched", ids, batchID)
	return err
}
