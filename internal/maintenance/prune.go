package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/storage"
)

// PruneSearchHistory deletes search_history rows older than olderThan in
// chunks of batchSize to avoid long locks (spec §4.7 History pruning,
// default retention 90 days, chunks of 10,000 rows).
func PruneSearchHistory(ctx context.Context, db storage.Querier, olderThan time.Time, batchSize int) (int64, error) {
	return pruneBatched(ctx, db, "search_history", "dispatched_at", olderThan, batchSize)
}

// PruneApplicationLogs deletes persistent application-log rows older than
// olderThan in the same batched pattern (spec §4.7 Log pruning, default
// retention 14 days).
func PruneApplicationLogs(ctx context.Context, db storage.Querier, olderThan time.Time, batchSize int) (int64, error) {
	return pruneBatched(ctx, db, "application_logs", "created_at", olderThan, batchSize)
}

// pruneBatched repeatedly deletes up to batchSize rows at a time until a
// pass affects fewer than batchSize rows, bounding each individual statement's lock
// duration (spec §4.7: "in chunks of 10,000 rows to avoid long locks").
func pruneBatched(ctx context.Context, db storage.Querier, table, tsColumn string, olderThan time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE ctid IN (
		SELECT ctid FROM %s WHERE %s < $1 LIMIT %d
	)`, table, table, tsColumn, batchSize)

	var total int64
	for {
		tag, err := db.Exec(ctx, sql, olderThan)
		if err != nil {
			return total, fmt.Errorf("prune %s batch: %w", table, err)
		}
		n := tag.RowsAffected()
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}
