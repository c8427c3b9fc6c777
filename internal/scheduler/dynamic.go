package scheduler

import (
	"context"
	"fmt"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/storage"
	"github.com/engels74/comradarr-sub004/internal/sync"
)

// ReloadDynamicSchedules installs every enabled user-defined Schedule row,
// replacing whatever was previously registered under the same name (spec
// §4.9 "each update cancels prior and installs new, computing nextRunAt
// from the cron expression").
func (s *Scheduler) ReloadDynamicSchedules(ctx context.Context, d *Deps) error {
	rows, err := storage.EnabledSchedules(ctx, d.DB)
	if err != nil {
		return fmt.Errorf("reload dynamic schedules: %w", err)
	}

	for _, row := range rows {
		name := dynamicJobName(row)
		s.Unregister(name)

		row := row // capture
		err := s.Register(Job{
			Name: name,
			Spec: toSixField(row.CronExpression),
			Fn: func(ctx context.Context) error {
				return d.runDynamicSweep(ctx, row)
			},
		})
		if err != nil {
			d.Logger.Warn("register dynamic schedule failed", "schedule", row.Name, "error", err)
			continue
		}

		if next, ok := s.NextRun(name); ok {
			if err := storage.SetScheduleNextRun(ctx, d.DB, row.ID, next); err != nil {
				d.Logger.Warn("set schedule next run failed", "schedule_id", row.ID, "error", err)
			}
		}
	}
	return nil
}

func dynamicJobName(row model.Schedule) string {
	return fmt.Sprintf("dynamic-schedule-%d", row.ID)
}

func (d *Deps) runDynamicSweep(ctx context.Context, row model.Schedule) error {
	kind := sync.Incremental
	if row.SweepType == model.SweepFullReconciliation {
		kind = sync.FullReconciliation
	}

	var connectors []model.Connector
	if row.ConnectorID != nil {
		c, err := storage.ConnectorByID(ctx, d.DB, *row.ConnectorID)
		if err != nil {
			return fmt.Errorf("dynamic schedule %d connector: %w", row.ID, err)
		}
		if c != nil {
			connectors = []model.Connector{*c}
		}
	} else {
		var err error
		connectors, err = d.enabledConnectors(ctx)
		if err != nil {
			return fmt.Errorf("dynamic schedule %d connectors: %w", row.ID, err)
		}
	}

	for _, c := range connectors {
		d.syncOneConnector(ctx, c, kind)
	}
	return nil
}
