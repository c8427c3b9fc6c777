package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// InsertPendingCommand records a dispatched search command awaiting a
// terminal status (spec §4.5 command monitor).
func InsertPendingCommand(ctx context.Context, db Querier, c model.PendingCommand) error {
	_, err := db.Exec(ctx, "pending_command_insert",
		c.ConnectorID, c.CommandID, c.ContentType, c.ContentID, c.CommandStatus)
	if err != nil {
		return fmt.Errorf("insert pending command: %w", err)
	}
	return nil
}

// OpenPendingCommands returns commands for connectorID still awaiting a
// terminal status.
func OpenPendingCommands(ctx context.Context, db Querier, connectorID int64) ([]model.PendingCommand, error) {
	rows, err := db.Query(ctx, "pending_command_open", connectorID)
	if err != nil {
		return nil, fmt.Errorf("open pending commands: %w", err)
	}
	defer rows.Close()

	var out []model.PendingCommand
	for rows.Next() {
		var c model.PendingCommand
		if err := rows.Scan(&c.ID, &c.ConnectorID, &c.CommandID, &c.ContentType,
			&c.ContentID, &c.CommandStatus, &c.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scan pending command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCommandStatus moves a command to a new status (spec §4.5 terminal-state
// mapping).
func SetCommandStatus(ctx context.Context, db Querier, id int64, status model.CommandStatus) error {
	_, err := db.Exec(ctx, "pending_command_set_status", id, status)
	return err
}

// ForceCloseStaleCommands marks any command still open past olderThan as
// failed (spec §4.5 24h timeout force-close). Returns rows affected.
func ForceCloseStaleCommands(ctx context.Context, db Querier, olderThan time.Time) (int64, error) {
	tag, err := db.Exec(ctx, "pending_command_force_close", olderThan)
	if err != nil {
		return 0, fmt.Errorf("force close stale commands: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneCommands deletes terminal-state commands dispatched before olderThan
// (spec §4.7 7-day cleanup).
func PruneCommands(ctx context.Context, db Querier, olderThan time.Time) (int64, error) {
	tag, err := db.Exec(ctx, "pending_command_prune", olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return tag.RowsAffected(), nil
}
