package queue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/throttle"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

// fakeQuerier is a minimal Querier stand-in local to this package's tests —
// see internal/storage/fake_test.go for why a hand-rolled fake replaces
// go-sqlmock here (this package talks to pgx directly, not database/sql).
type fakeQuerier struct {
	registryRows [][]any // each entry is a tuple for one search_registry row; index 2 is content_type
	execCalls    []string
	throttle     *model.ThrottleState
}

func (q *fakeQuerier) findRow(id int64) []any {
	for _, r := range q.registryRows {
		if r[0].(int64) == id {
			return r
		}
	}
	return nil
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execCalls = append(q.execCalls, sql)
	switch sql {
	case "throttle_state_upsert":
		// args: connectorID, reqThisMinute, reqToday, minuteStart, dayStart, pausedUntil, pauseReason, lastRequestAt
		q.throttle = &model.ThrottleState{ConnectorID: args[0].(int64)}
	case "registry_enqueue_pending":
		connectorID := args[0].(int64)
		var n int64
		for _, r := range q.registryRows {
			if r[1].(int64) == connectorID && r[5].(model.RegistryState) == model.StatePending {
				r[5] = model.StateQueued
				n++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n)), nil
	case "registry_set_searching":
		r := q.findRow(args[0].(int64))
		if r == nil {
			// Row not tracked by this fake (tests exercising dispatchOne
			// directly against a bare item, not a seeded registry row) —
			// behave as an unconditional successful claim.
			return pgconn.NewCommandTag("UPDATE 1"), nil
		}
		if r[5].(model.RegistryState) != model.StateQueued {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		r[5] = model.StateSearching
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case "registry_revert_queued":
		if r := q.findRow(args[0].(int64)); r != nil {
			r[5] = model.StateQueued
		}
	case "registry_return_pending":
		if r := q.findRow(args[0].(int64)); r != nil {
			r[5] = model.StatePending
		}
	case "registry_cooldown":
		if r := q.findRow(args[0].(int64)); r != nil {
			r[5] = model.StateCooldown
		}
	case "registry_exhaust":
		if r := q.findRow(args[0].(int64)); r != nil {
			r[5] = model.StateExhausted
		}
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

// Query only matches rows actually in the state the real SQL's WHERE
// clause asks for (state = 'queued' for the dequeue statements) — a
// fake that ignored state here would let already-queued test fixtures
// mask a broken pending->queued transition.
func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if !strings.Contains(sql, "FROM search_registry") {
		return &fakeRows{}, nil
	}
	connectorID := args[0].(int64)
	var contentType *model.ContentType
	if strings.Contains(sql, "content_type = $2") && len(args) >= 2 {
		ct := args[1].(model.ContentType)
		contentType = &ct
	}
	limit := args[len(args)-1].(int)

	var matched [][]any
	for _, r := range q.registryRows {
		if r[1].(int64) != connectorID {
			continue
		}
		if strings.Contains(sql, "state = 'queued'") && r[5].(model.RegistryState) != model.StateQueued {
			continue
		}
		if contentType != nil && r[2].(model.ContentType) != *contentType {
			continue
		}
		matched = append(matched, r)
		if len(matched) >= limit {
			break
		}
	}
	return &fakeRows{rows: matched}, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch sql {
	case "throttle_state_get":
		if q.throttle == nil {
			return noRowsRow{}
		}
		return errRow{} // unused by these tests
	case "throttle_profile_for_connector", "throttle_profile_default":
		return noRowsRow{}
	}
	return noRowsRow{}
}

type noRowsRow struct{}

func (noRowsRow) Scan(dest ...any) error { return pgx.ErrNoRows }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return nil }

// fakeRows is a pgx.Rows stand-in backed by an in-memory tuple slice.
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
		case *int64:
			*d = v.(int64)
		case *model.ContentType:
			*d = v.(model.ContentType)
		case *model.SearchType:
			*d = v.(model.SearchType)
		case *model.RegistryState:
			*d = v.(model.RegistryState)
		case *int:
			*d = v.(int)
		case **time.Time:
			if v == nil {
				*d = nil
			} else {
				*d = v.(*time.Time)
			}
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Err() error                                    { return nil }
func (r *fakeRows) Close()                                        {}
func (r *fakeRows) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription  { return nil }
func (r *fakeRows) Values() ([]any, error)                        { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                           { return nil }
func (r *fakeRows) Conn() *pgx.Conn                                { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func registryRow(id int64, ct model.ContentType, st model.SearchType) []any {
	return registryRowState(id, ct, st, model.StateQueued)
}

func registryRowState(id int64, ct model.ContentType, st model.SearchType, state model.RegistryState) []any {
	now := time.Now().UTC()
	return []any{id, int64(9), ct, id * 100, st, state, 0, (*time.Time)(nil), 0, now, now}
}

func testConfig() *config.Config {
	return &config.Config{
		QueueBackoffBase:       time.Minute,
		QueueBackoffMultiplier: 2,
		QueueBackoffMax:        time.Hour,
		QueueMaxAttempts:       5,
		QueueStaleThreshold:    10 * time.Minute,
		FallbackRequestsPerMinute: 100,
		FallbackBatchSize:         5,
		FallbackRateLimitPause:    time.Minute,
	}
}

// TestRunCycle_EnqueuesPendingBeforeDispatch exercises the full
// pending -> queued -> searching -> pending lifecycle through a single
// RunCycle call. A fakeQuerier seeded with a row still in StatePending
// must not be dispatchable until RunCycle's own enqueue step promotes
// it to queued first.
func TestRunCycle_EnqueuesPendingBeforeDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmd-1","status":"queued"}`))
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)

	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	enforcer := throttle.New(cfg, fixedClock{t: now})
	e := New(cfg, enforcer, fixedClock{t: now}, nil)

	q := &fakeQuerier{registryRows: [][]any{
		registryRowState(1, model.ContentEpisode, model.SearchGap, model.StatePending),
	}}
	connector := model.Connector{ID: 9, Type: model.ConnectorSeries}
	profile := model.ThrottleProfile{BatchSize: 5, RequestsPerMinute: 100}

	result := e.RunCycle(context.Background(), q, client, connector, profile)

	require.Empty(t, result.Errors)
	assert.EqualValues(t, 1, result.Enqueued)
	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, model.StatePending, q.registryRows[0][5])
}

func TestDequeueRoundRobin_AlternatesEpisodeAndMovie(t *testing.T) {
	now := time.Now().UTC()
	_ = now
	cfg := testConfig()
	enforcer := throttle.New(cfg, fixedClock{t: time.Now()})
	e := New(cfg, enforcer, fixedClock{t: time.Now()}, nil)

	q := &fakeQuerier{registryRows: [][]any{
		registryRow(1, model.ContentEpisode, model.SearchGap),
		registryRow(2, model.ContentMovie, model.SearchGap),
	}}

	batch, err := e.dequeueRoundRobin(context.Background(), q, 9, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, model.ContentEpisode, batch[0].ContentType)
	assert.Equal(t, model.ContentMovie, batch[1].ContentType)
}

func TestDispatchOne_SuccessReportsDispatched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmd-1","status":"queued"}`))
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)

	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	enforcer := throttle.New(cfg, fixedClock{t: now})
	e := New(cfg, enforcer, fixedClock{t: now}, nil)

	q := &fakeQuerier{}
	connector := model.Connector{ID: 9, Type: model.ConnectorSeries}
	item := model.SearchRegistry{ID: 1, ConnectorID: 9, ContentType: model.ContentEpisode, ContentID: 100, SearchType: model.SearchGap}

	outcome, err := e.dispatchOne(context.Background(), q, client, connector, item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome)
}

func TestDispatchOne_ServerErrorEntersCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)

	cfg := testConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	enforcer := throttle.New(cfg, fixedClock{t: now})
	e := New(cfg, enforcer, fixedClock{t: now}, nil)

	q := &fakeQuerier{}
	connector := model.Connector{ID: 9, Type: model.ConnectorSeries}
	item := model.SearchRegistry{ID: 1, ConnectorID: 9, ContentType: model.ContentMovie, ContentID: 200, SearchType: model.SearchGap, AttemptCount: 0}

	outcome, err := e.dispatchOne(context.Background(), q, client, connector, item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCooldown, outcome)
	assert.Contains(t, q.execCalls, "registry_cooldown")
}

func TestDispatchOne_ExhaustsAtMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)

	cfg := testConfig()
	cfg.QueueMaxAttempts = 1
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	enforcer := throttle.New(cfg, fixedClock{t: now})
	e := New(cfg, enforcer, fixedClock{t: now}, nil)

	q := &fakeQuerier{}
	connector := model.Connector{ID: 9, Type: model.ConnectorMovie}
	item := model.SearchRegistry{ID: 1, ConnectorID: 9, ContentType: model.ContentMovie, ContentID: 200, SearchType: model.SearchGap, AttemptCount: 0}

	outcome, err := e.dispatchOne(context.Background(), q, client, connector, item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome)
	assert.Contains(t, q.execCalls, "registry_exhaust")
}
