package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/model"
)

func TestUpsertPendingRegistry_Inserted(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Equal(t, "registry_upsert", sql)
			return singleRow{values: []any{int64(42)}}
		},
	}
	created, err := UpsertPendingRegistry(context.Background(), q, 1, model.ContentEpisode, 7, model.SearchGap)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUpsertPendingRegistry_AlreadyExists(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return noRowsRow{}
		},
	}
	created, err := UpsertPendingRegistry(context.Background(), q, 1, model.ContentEpisode, 7, model.SearchGap)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestDeleteResolvedRegistries_SumsAllFourStatements(t *testing.T) {
	counts := map[string]int64{
		"registry_delete_resolved_gap":            2,
		"registry_delete_resolved_gap_movie":      1,
		"registry_delete_resolved_upgrade":        3,
		"registry_delete_resolved_upgrade_movie":  0,
	}
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			n, ok := counts[sql]
			require.True(t, ok, "unexpected statement %q", sql)
			return pgconn.NewCommandTag(tagFor(n)), nil
		},
	}

	total, err := DeleteResolvedRegistries(context.Background(), q, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 6, total)
}

func tagFor(n int64) string {
	if n == 0 {
		return "DELETE 0"
	}
	return "DELETE " + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestDequeuePriority_OrdersGapsBeforeUpgrades(t *testing.T) {
	now := time.Now().UTC()
	q := &fakeQuerier{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			assert.Contains(t, sql, "CASE search_type WHEN 'gap' THEN 0 ELSE 1 END")
			return &fakeRows{rows: [][]any{
				{int64(1), int64(9), model.ContentEpisode, int64(100), model.SearchGap, model.StateQueued, 0, nil, 0, now, now},
			}}, nil
		},
	}
	out, err := DequeuePriority(context.Background(), q, 9, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.SearchGap, out[0].SearchType)
	assert.Equal(t, model.StateQueued, out[0].State)
}

func TestSetSearching_NoRowsAffectedMeansAlreadyClaimed(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	ok, err := SetSearching(context.Background(), q, 55)
	require.NoError(t, err)
	assert.False(t, ok)
}
