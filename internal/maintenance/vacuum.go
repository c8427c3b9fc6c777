package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/engels74/comradarr-sub004/internal/storage"
)

// Vacuum issues VACUUM against the given tables, recording the duration
// (spec §4.7 Storage compaction/statistics). full selects the blocking
// VACUUM FULL variant; the non-locking form is the default, matching the
// spec's "non-locking by default" contract. VACUUM cannot run as a prepared
// statement or inside a transaction block, so this bypasses
// registerPreparedStatements and issues the inline SQL directly, the same
// one-off-admin-query pattern storage/pool.go documents for queries that
// don't belong in the hot-path prepared-statement map.
func Vacuum(ctx context.Context, db storage.Querier, full bool, tables ...string) (time.Duration, error) {
	start := time.Now()
	verb := "VACUUM"
	if full {
		verb = "VACUUM FULL"
	}
	for _, table := range tables {
		if _, err := db.Exec(ctx, fmt.Sprintf("%s %s", verb, table)); err != nil {
			return time.Since(start), fmt.Errorf("vacuum %s: %w", table, err)
		}
	}
	return time.Since(start), nil
}

// Analyze issues ANALYZE against the given tables, recording the duration.
func Analyze(ctx context.Context, db storage.Querier, tables ...string) (time.Duration, error) {
	start := time.Now()
	for _, table := range tables {
		if _, err := db.Exec(ctx, fmt.Sprintf("ANALYZE %s", table)); err != nil {
			return time.Since(start), fmt.Errorf("analyze %s: %w", table, err)
		}
	}
	return time.Since(start), nil
}
