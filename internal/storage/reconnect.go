package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// GetSyncState fetches a connector's reconnect-controller state, returning a
// zero-value state for connectors that have never needed reconnection.
func GetSyncState(ctx context.Context, db Querier, connectorID int64) (*model.SyncState, error) {
	var s model.SyncState
	err := db.QueryRow(ctx, "sync_state_get", connectorID).Scan(
		&s.ConnectorID, &s.ReconnectAttempts, &s.NextReconnectAt,
		&s.ReconnectStartedAt, &s.LastReconnectError, &s.ReconnectPaused)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.SyncState{ConnectorID: connectorID}, nil
		}
		return nil, fmt.Errorf("get sync state %d: %w", connectorID, err)
	}
	return &s, nil
}

// PutSyncState upserts the full reconnect state row.
func PutSyncState(ctx context.Context, db Querier, s model.SyncState) error {
	_, err := db.Exec(ctx, "sync_state_upsert",
		s.ConnectorID, s.ReconnectAttempts, s.NextReconnectAt, s.ReconnectStartedAt,
		s.LastReconnectError, s.ReconnectPaused)
	if err != nil {
		return fmt.Errorf("put sync state %d: %w", s.ConnectorID, err)
	}
	return nil
}

// DueSyncStates returns connectors whose reconnect backoff has elapsed
// (spec §4.4 reconnect controller poll loop, §8 property 6).
func DueSyncStates(ctx context.Context, db Querier) ([]model.SyncState, error) {
	rows, err := db.Query(ctx, "sync_state_due")
	if err != nil {
		return nil, fmt.Errorf("due sync states: %w", err)
	}
	defer rows.Close()

	var out []model.SyncState
	for rows.Next() {
		var s model.SyncState
		if err := rows.Scan(&s.ConnectorID, &s.ReconnectAttempts, &s.NextReconnectAt,
			&s.ReconnectStartedAt, &s.LastReconnectError, &s.ReconnectPaused); err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
