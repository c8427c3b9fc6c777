// Package commandmon polls dispatched search commands for terminal status
// and retires stale or old ones (spec §4.5).
package commandmon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// statusMap maps the upstream wire status string to the persisted
// model.CommandStatus.
var statusMap = map[string]model.CommandStatus{
	"queued":    model.CommandQueued,
	"started":   model.CommandStarted,
	"completed": model.CommandCompleted,
	"failed":    model.CommandFailed,
}

func isTerminal(s model.CommandStatus) bool {
	return s == model.CommandCompleted || s == model.CommandFailed
}

// PollResult summarizes one pass over a connector's open commands.
type PollResult struct {
	Checked   int
	Completed int
	Failed    int
	StillOpen int
	Errors    []string
}

// Monitor polls pending commands per connector and retires them.
type Monitor struct {
	clock  timeutil.Clock
	logger *slog.Logger
}

// New constructs a Monitor.
func New(clock timeutil.Clock, logger *slog.Logger) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{clock: clock, logger: logger}
}

// Poll checks every open command for connector against the upstream
// command-status endpoint and maps terminal states (spec §4.5).
func (m *Monitor) Poll(ctx context.Context, db storage.Querier, client *upstream.Client, connectorID int64) PollResult {
	var result PollResult

	open, err := storage.OpenPendingCommands(ctx, db, connectorID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("open pending commands: %v", err))
		return result
	}

	for _, cmd := range open {
		result.Checked++
		status, err := client.CommandStatus(ctx, cmd.CommandID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("command status %s: %v", cmd.CommandID, err))
			continue
		}

		newStatus, known := statusMap[status.Status]
		if !known {
			result.Errors = append(result.Errors, fmt.Sprintf("unknown command status %q for %s", status.Status, cmd.CommandID))
			continue
		}
		if newStatus == cmd.CommandStatus {
			result.StillOpen++
			continue
		}

		if err := storage.SetCommandStatus(ctx, db, cmd.ID, newStatus); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("set command status %s: %v", cmd.CommandID, err))
			continue
		}
		if !isTerminal(newStatus) {
			result.StillOpen++
			continue
		}
		if newStatus == model.CommandCompleted {
			result.Completed++
		} else {
			result.Failed++
		}
	}

	return result
}

// ForceCloseStale closes any command still open past staleAfter as failed
// (spec §4.5 24h timeout force-close).
func (m *Monitor) ForceCloseStale(ctx context.Context, db storage.Querier, staleAfter time.Duration) (int64, error) {
	n, err := storage.ForceCloseStaleCommands(ctx, db, m.clock.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("force close stale commands: %w", err)
	}
	return n, nil
}

// Prune deletes terminal-state commands older than retention (spec §4.7
// 7-day cleanup).
func (m *Monitor) Prune(ctx context.Context, db storage.Querier, retention time.Duration) (int64, error) {
	n, err := storage.PruneCommands(ctx, db, m.clock.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return n, nil
}
