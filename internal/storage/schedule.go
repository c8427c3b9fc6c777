package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/model"
)

// EnabledSchedules returns every enabled dynamic sweep schedule (spec §4.9
// dynamic Schedule reload).
func EnabledSchedules(ctx context.Context, db Querier) ([]model.Schedule, error) {
	rows, err := db.Query(ctx, "schedules_enabled")
	if err != nil {
		return nil, fmt.Errorf("enabled schedules: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var s model.Schedule
		if err := rows.Scan(&s.ID, &s.Name, &s.CronExpression, &s.Timezone, &s.SweepType,
			&s.ConnectorID, &s.Enabled, &s.NextRunAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetScheduleNextRun records the next scheduled firing time for a schedule.
func SetScheduleNextRun(ctx context.Context, db Querier, id int64, next time.Time) error {
	_, err := db.Exec(ctx, "schedule_set_next_run", id, next)
	return err
}
