package analytics

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

// fakeQuerier is a minimal storage.Querier stand-in local to this package's
// tests — see internal/storage/fake_test.go for why a hand-rolled fake
// replaces go-sqlmock here (this package talks to pgx directly, not
// database/sql).
type fakeQuerier struct {
	execCalls  []string
	eventCount map[model.AnalyticsEventType]int
	upsertErr  error
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execCalls = append(q.execCalls, sql)
	if sql == "analytics_hourly_upsert" || sql == "analytics_daily_upsert" {
		return pgconn.NewCommandTag("INSERT 0 1"), q.upsertErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	switch sql {
	case "analytics_event_counts_by_type":
		var rows [][]any
		for t, c := range q.eventCount {
			rows = append(rows, []any{t, c})
		}
		return &fakeRows{rows: rows}, nil
	case "analytics_hourly_in_day":
		return &fakeRows{}, nil
	}
	return &fakeRows{}, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return singleRow{values: []any{0.0, 0}}
}

type singleRow struct{ values []any }

func (r singleRow) Scan(dest ...any) error {
	if f, ok := dest[0].(*float64); ok {
		*f = r.values[0].(float64)
	}
	if len(dest) > 1 {
		if i, ok := dest[1].(*int); ok {
			*i = r.values[1].(int)
		}
	}
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *model.AnalyticsEventType:
			*d = v.(model.AnalyticsEventType)
		case *int:
			*d = v.(int)
		}
	}
	return nil
}

func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) Close()                                       {}
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestCollector_GapDiscovered_Records(t *testing.T) {
	c := New(fixedClock{t: time.Now()}, nil)
	q := &fakeQuerier{}
	c.GapDiscovered(context.Background(), q, 1, model.ContentEpisode, 100)
	assert.Contains(t, q.execCalls, "analytics_event_insert")
}

func TestAggregator_RunHourly_Idempotent(t *testing.T) {
	a := NewAggregator()
	q := &fakeQuerier{eventCount: map[model.AnalyticsEventType]int{
		model.EventSearchDispatched: 3,
		model.EventGapDiscovered:    2,
	}}
	now := time.Date(2026, 3, 1, 5, 5, 0, 0, time.UTC)
	connectors := []model.Connector{{ID: 1}}

	first := a.RunHourly(context.Background(), q, connectors, now)
	require.Empty(t, first.Errors)
	assert.Equal(t, 1, first.ConnectorsProcessed)

	second := a.RunHourly(context.Background(), q, connectors, now)
	require.Empty(t, second.Errors)
	assert.Equal(t, first.ConnectorsProcessed, second.ConnectorsProcessed)
}

func TestAggregator_RunDaily_PrunesEvents(t *testing.T) {
	a := NewAggregator()
	q := &fakeQuerier{}
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	connectors := []model.Connector{{ID: 1}}

	result := a.RunDaily(context.Background(), q, connectors, now, 7*24*time.Hour)
	require.Empty(t, result.Errors)
	assert.Equal(t, 1, result.ConnectorsProcessed)
	assert.Contains(t, q.execCalls, "analytics_event_prune")
}
