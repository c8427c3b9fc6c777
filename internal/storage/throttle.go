package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// GetThrottleState fetches and row-locks a connector's throttle counters
// (FOR UPDATE) so the caller can read-modify-write atomically within one
// transaction — the basis for tryConsume's serialization guarantee (spec
// §4.1, §8 property 1).
func GetThrottleState(ctx context.Context, db Querier, connectorID int64) (*model.ThrottleState, error) {
	var s model.ThrottleState
	err := db.QueryRow(ctx, "throttle_state_get", connectorID).Scan(
		&s.ConnectorID, &s.RequestsThisMinute, &s.RequestsToday,
		&s.MinuteWindowStart, &s.DayWindowStart, &s.PausedUntil, &s.PauseReason,
		&s.LastRequestAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			now := time.Now().UTC()
			return &model.ThrottleState{
				ConnectorID:       connectorID,
				MinuteWindowStart: now,
				DayWindowStart:    dayStart(now),
			}, nil
		}
		return nil, fmt.Errorf("get throttle state %d: %w", connectorID, err)
	}
	return &s, nil
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PutThrottleState upserts the full counter row.
func PutThrottleState(ctx context.Context, db Querier, s model.ThrottleState) error {
	_, err := db.Exec(ctx, "throttle_state_upsert",
		s.ConnectorID, s.RequestsThisMinute, s.RequestsToday, s.MinuteWindowStart,
		s.DayWindowStart, s.PausedUntil, s.PauseReason, s.LastRequestAt)
	if err != nil {
		return fmt.Errorf("put throttle state %d: %w", s.ConnectorID, err)
	}
	return nil
}

// ThrottleProfileForConnector returns the profile explicitly assigned to a
// connector, if any.
func ThrottleProfileForConnector(ctx context.Context, db Querier, connectorID int64) (*model.ThrottleProfile, error) {
	var p model.ThrottleProfile
	err := db.QueryRow(ctx, "throttle_profile_for_connector", connectorID).Scan(
		&p.ID, &p.Name, &p.RequestsPerMinute, &p.DailyBudget, &p.BatchSize,
		&p.BatchCooldownSeconds, &p.RateLimitPauseSeconds, &p.IsDefault)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("throttle profile for connector %d: %w", connectorID, err)
	}
	return &p, nil
}

// DefaultThrottleProfile returns the single profile flagged isDefault, if any.
func DefaultThrottleProfile(ctx context.Context, db Querier) (*model.ThrottleProfile, error) {
	var p model.ThrottleProfile
	err := db.QueryRow(ctx, "throttle_profile_default").Scan(
		&p.ID, &p.Name, &p.RequestsPerMinute, &p.DailyBudget, &p.BatchSize,
		&p.BatchCooldownSeconds, &p.RateLimitPauseSeconds, &p.IsDefault)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("default throttle profile: %w", err)
	}
	return &p, nil
}
