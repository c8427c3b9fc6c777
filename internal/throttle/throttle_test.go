package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
)

// fakeQuerier is a minimal Querier stand-in local to this package's tests —
// see internal/storage/fake_test.go for the rationale (go-sqlmock speaks
// database/sql, not pgx, so a narrow hand-rolled fake is the closer fit).
type fakeQuerier struct {
	state     *model.ThrottleState
	profile   *model.ThrottleProfile
	putCalled int
}

type fixedRow struct {
	q   *fakeQuerier
	sql string
}

func (r fixedRow) Scan(dest ...any) error {
	switch r.sql {
	case "throttle_state_get":
		if r.q.state == nil {
			return pgx.ErrNoRows
		}
		s := r.q.state
		*dest[0].(*int64) = s.ConnectorID
		*dest[1].(*int) = s.RequestsThisMinute
		*dest[2].(*int) = s.RequestsToday
		*dest[3].(*time.Time) = s.MinuteWindowStart
		*dest[4].(*time.Time) = s.DayWindowStart
		*dest[5].(**time.Time) = s.PausedUntil
		*dest[6].(**model.PauseReason) = s.PauseReason
		*dest[7].(**time.Time) = s.LastRequestAt
		return nil
	case "throttle_profile_for_connector":
		return pgx.ErrNoRows
	case "throttle_profile_default":
		return pgx.ErrNoRows
	}
	return pgx.ErrNoRows
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if sql == "throttle_state_upsert" {
		q.putCalled++
		q.state = &model.ThrottleState{
			ConnectorID:        args[0].(int64),
			RequestsThisMinute: args[1].(int),
			RequestsToday:      args[2].(int),
			MinuteWindowStart:  args[3].(time.Time),
			DayWindowStart:     args[4].(time.Time),
		}
		if v, ok := args[5].(*time.Time); ok {
			q.state.PausedUntil = v
		}
		if v, ok := args[6].(*model.PauseReason); ok {
			q.state.PauseReason = v
		}
		if v, ok := args[7].(*time.Time); ok {
			q.state.LastRequestAt = v
		}
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return fixedRow{q: q, sql: sql}
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testConfig() *config.Config {
	return &config.Config{
		FallbackRequestsPerMinute: 3,
		FallbackDailyBudget:       0,
		FallbackBatchSize:         5,
		FallbackBatchCooldown:     30 * time.Second,
		FallbackRateLimitPause:    60 * time.Second,
	}
}

func TestTryConsume_AllowsUnderBudget(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := &fakeQuerier{}
	e := New(testConfig(), fixedClock{t: now})

	d, err := e.TryConsume(context.Background(), q, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, q.state.RequestsThisMinute)
}

func TestTryConsume_PausesAtRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := &fakeQuerier{state: &model.ThrottleState{
		ConnectorID:        1,
		RequestsThisMinute: 3, // at fallback limit of 3/min
		MinuteWindowStart:  now,
		DayWindowStart:     now,
	}}
	e := New(testConfig(), fixedClock{t: now})

	d, err := e.TryConsume(context.Background(), q, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.NotNil(t, d.Reason)
	assert.Equal(t, model.PauseRateLimit, *d.Reason)
}

func TestTryConsume_RespectsExistingPause(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(30 * time.Second)
	reason := model.PauseManual
	q := &fakeQuerier{state: &model.ThrottleState{
		ConnectorID:       1,
		MinuteWindowStart: now,
		DayWindowStart:    now,
		PausedUntil:       &until,
		PauseReason:       &reason,
	}}
	e := New(testConfig(), fixedClock{t: now})

	d, err := e.TryConsume(context.Background(), q, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, model.PauseManual, *d.Reason)
}

func TestResetExpiredWindows_ClearsDailyBudgetPauseAtRollover(t *testing.T) {
	midnight := time.Date(2026, 1, 2, 0, 0, 1, 0, time.UTC)
	yesterday := midnight.Add(-24 * time.Hour)
	reason := model.PauseDailyBudget
	until := midnight.Add(-1 * time.Second)
	q := &fakeQuerier{state: &model.ThrottleState{
		ConnectorID:        1,
		RequestsToday:      10,
		MinuteWindowStart:  yesterday,
		DayWindowStart:     yesterday,
		PausedUntil:        &until,
		PauseReason:        &reason,
	}}
	e := New(testConfig(), fixedClock{t: midnight})

	summary, err := e.ResetExpiredWindows(context.Background(), q, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DayResets)
	assert.GreaterOrEqual(t, summary.PausesCleared, 1)
	assert.Equal(t, 0, q.state.RequestsToday)
	assert.Nil(t, q.state.PausedUntil)
}
