package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetThrottleState_MissingRowYieldsFreshWindow(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			require.Equal(t, "throttle_state_get", sql)
			return noRowsRow{}
		},
	}
	s, err := GetThrottleState(context.Background(), q, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.ConnectorID)
	assert.Equal(t, 0, s.RequestsThisMinute)
	assert.Equal(t, 0, s.RequestsToday)
	assert.Equal(t, s.DayWindowStart, dayStart(s.MinuteWindowStart))
}

func TestGetThrottleState_ExistingRow(t *testing.T) {
	now := time.Now().UTC()
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return singleRow{values: []any{int64(3), 12, 340, now, dayStart(now), nil, nil, nil}}
		},
	}
	s, err := GetThrottleState(context.Background(), q, 3)
	require.NoError(t, err)
	assert.Equal(t, 12, s.RequestsThisMinute)
	assert.Equal(t, 340, s.RequestsToday)
	assert.Nil(t, s.PausedUntil)
}

func TestDefaultThrottleProfile_NoneConfigured(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return noRowsRow{}
		},
	}
	p, err := DefaultThrottleProfile(context.Background(), q)
	require.NoError(t, err)
	assert.Nil(t, p)
}
