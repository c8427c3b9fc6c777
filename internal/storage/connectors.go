package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// ConnectorByID fetches a single connector row.
func ConnectorByID(ctx context.Context, db Querier, id int64) (*model.Connector, error) {
	var c model.Connector
	err := db.QueryRow(ctx, "connector_by_id", id).Scan(
		&c.ID, &c.Type, &c.Name, &c.URL, &c.APIKeyEncrypted, &c.Enabled,
		&c.HealthStatus, &c.LastSyncAt, &c.ThrottleProfileID,
	)
	if err != nil {
		return nil, fmt.Errorf("connector %d: %w", id, err)
	}
	return &c, nil
}

// EnabledConnectors returns every enabled connector.
func EnabledConnectors(ctx context.Context, db Querier) ([]model.Connector, error) {
	rows, err := db.Query(ctx, "connectors_enabled")
	if err != nil {
		return nil, fmt.Errorf("enabled connectors: %w", err)
	}
	defer rows.Close()
	return scanConnectors(rows)
}

// UnhealthyConnectors returns enabled connectors whose health is offline or
// unhealthy — candidates for the reconnect controller.
func UnhealthyConnectors(ctx context.Context, db Querier) ([]model.Connector, error) {
	rows, err := db.Query(ctx, "connectors_unhealthy")
	if err != nil {
		return nil, fmt.Errorf("unhealthy connectors: %w", err)
	}
	defer rows.Close()
	return scanConnectors(rows)
}

func scanConnectors(rows Rows) ([]model.Connector, error) {
	var out []model.Connector
	for rows.Next() {
		var c model.Connector
		if err := rows.Scan(
			&c.ID, &c.Type, &c.Name, &c.URL, &c.APIKeyEncrypted, &c.Enabled,
			&c.HealthStatus, &c.LastSyncAt, &c.ThrottleProfileID,
		); err != nil {
			return nil, fmt.Errorf("scan connector: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConnectorHealth updates a connector's health status and last-sync
// timestamp.
func SetConnectorHealth(ctx context.Context, db Querier, connectorID int64, status model.HealthStatus, at time.Time) error {
	_, err := db.Exec(ctx, "connector_set_health", connectorID, status, at)
	return err
}
