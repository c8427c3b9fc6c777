// Package maintenance runs storage upkeep: VACUUM/ANALYZE, orphan cleanup,
// batched history/log pruning, and exhausted-registry backlog recovery
// (spec §4.7). Grounded on the teacher's internal/maintenance package,
// generalized from materialized-view refresh + ad-hoc notification cleanup
// into the engine's batched, chunked pruning jobs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/queue"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/timeutil"
)

// Runner performs one maintenance pass across connectors.
type Runner struct {
	cfg    *config.Config
	clock  timeutil.Clock
	logger *slog.Logger
}

// New constructs a Runner.
func New(cfg *config.Config, clock timeutil.Clock, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, clock: clock, logger: logger}
}

// Result summarizes a full db-maintenance job run (spec §4.9 db-maintenance).
type Result struct {
	VacuumDuration  time.Duration
	AnalyzeDuration time.Duration
	OrphansDeleted  int64
	HistoryPruned   int64
	LogsPruned      int64
	BacklogRecovered int64
	Errors          []string
}

// Run executes the full daily maintenance sweep: compaction/statistics,
// per-connector orphan cleanup, batched history/log pruning, and backlog
// recovery (spec §4.7).
func (r *Runner) Run(ctx context.Context, db storage.Querier, connectorIDs []int64) Result {
	var result Result

	vacDur, err := Vacuum(ctx, db, r.cfg.VacuumFull, "search_registry", "pending_commands", "analytics_events")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("vacuum: %v", err))
	}
	result.VacuumDuration = vacDur

	anaDur, err := Analyze(ctx, db, "search_registry", "pending_commands", "analytics_events")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("analyze: %v", err))
	}
	result.AnalyzeDuration = anaDur

	for _, id := range connectorIDs {
		n, err := storage.OrphanCleanup(ctx, db, id)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("orphan cleanup %d: %v", id, err))
			continue
		}
		result.OrphansDeleted += n
	}

	historyCutoff := r.clock.Now().Add(-time.Duration(r.cfg.HistoryRetentionDays) * 24 * time.Hour)
	pruned, err := PruneSearchHistory(ctx, db, historyCutoff, r.cfg.MaintenanceBatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("prune history: %v", err))
	}
	result.HistoryPruned = pruned

	logCutoff := r.clock.Now().Add(-time.Duration(r.cfg.LogRetentionDays) * 24 * time.Hour)
	logsPruned, err := PruneApplicationLogs(ctx, db, logCutoff, r.cfg.MaintenanceBatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("prune logs: %v", err))
	}
	result.LogsPruned = logsPruned

	for _, id := range connectorIDs {
		n, err := queue.RecoverBacklog(ctx, db, r.clock, id, r.cfg.BacklogTierDelays)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("backlog recover %d: %v", id, err))
			continue
		}
		result.BacklogRecovered += n
	}

	return result
}
