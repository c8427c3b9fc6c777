package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/config"
)

type fakeQuerier struct {
	execCalls   []string
	deleteCalls int
	rowsPerCall int64
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execCalls = append(q.execCalls, sql)
	if sql[:6] == "DELETE" {
		q.deleteCalls++
		if q.deleteCalls > 1 {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		return pgconn.NewCommandTag(fmtTag(q.rowsPerCall)), nil
	}
	return pgconn.NewCommandTag("VACUUM"), nil
}

func fmtTag(n int64) string {
	if n == 0 {
		return "DELETE 0"
	}
	return "DELETE " + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func TestVacuum_IssuesStatementPerTable(t *testing.T) {
	q := &fakeQuerier{}
	_, err := Vacuum(context.Background(), q, false, "search_registry", "pending_commands")
	require.NoError(t, err)
	assert.Len(t, q.execCalls, 2)
	assert.Equal(t, "VACUUM search_registry", q.execCalls[0])
}

func TestVacuum_Full(t *testing.T) {
	q := &fakeQuerier{}
	_, err := Vacuum(context.Background(), q, true, "search_registry")
	require.NoError(t, err)
	assert.Equal(t, "VACUUM FULL search_registry", q.execCalls[0])
}

func TestPruneBatched_StopsWhenBatchBelowSize(t *testing.T) {
	q := &fakeQuerier{rowsPerCall: 3}
	n, err := pruneBatched(context.Background(), q, "search_history", "dispatched_at", time.Now(), 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, q.deleteCalls)
}

func TestRunner_BacklogTierDelaysFromConfig(t *testing.T) {
	cfg := &config.Config{
		HistoryRetentionDays: 90,
		LogRetentionDays:     14,
		MaintenanceBatchSize: 10000,
		BacklogTierDelays:    config.DefaultTierDelays(),
	}
	assert.Equal(t, 7*24*time.Hour, cfg.BacklogTierDelays[1])
}
