package commandmon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engels74/comradarr-sub004/internal/model"
	"github.com/engels74/comradarr-sub004/internal/upstream"
)

type fakeQuerier struct {
	open       []model.PendingCommand
	setCalls   map[int64]model.CommandStatus
	execCalls  []string
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.execCalls = append(q.execCalls, sql)
	switch sql {
	case "pending_command_set_status":
		if q.setCalls == nil {
			q.setCalls = make(map[int64]model.CommandStatus)
		}
		q.setCalls[args[0].(int64)] = args[1].(model.CommandStatus)
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case "pending_command_force_close", "pending_command_prune":
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows := make([][]any, 0, len(q.open))
	for _, c := range q.open {
		rows = append(rows, []any{c.ID, c.ConnectorID, c.CommandID, c.ContentType, c.ContentID, c.CommandStatus, c.DispatchedAt})
	}
	return &fakeRows{rows: rows}, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return noRowsRow{}
}

type noRowsRow struct{}

func (noRowsRow) Scan(dest ...any) error { return pgx.ErrNoRows }

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
		case *string:
			*d = v.(string)
		case *model.ContentType:
			*d = v.(model.ContentType)
		case *model.CommandStatus:
			*d = v.(model.CommandStatus)
		case *time.Time:
			*d = v.(time.Time)
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
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestClient(t *testing.T, statusByID map[string]string) *upstream.Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/command/"):]
		status, ok := statusByID[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": status})
	}))
	t.Cleanup(srv.Close)
	return upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)
}

func TestPoll_MapsTerminalStates(t *testing.T) {
	client := newTestClient(t, map[string]string{"cmd-1": "completed", "cmd-2": "failed", "cmd-3": "started"})
	q := &fakeQuerier{open: []model.PendingCommand{
		{ID: 1, ConnectorID: 9, CommandID: "cmd-1", ContentType: model.ContentEpisode, ContentID: 100, CommandStatus: model.CommandQueued, DispatchedAt: time.Now()},
		{ID: 2, ConnectorID: 9, CommandID: "cmd-2", ContentType: model.ContentEpisode, ContentID: 101, CommandStatus: model.CommandStarted, DispatchedAt: time.Now()},
		{ID: 3, ConnectorID: 9, CommandID: "cmd-3", ContentType: model.ContentMovie, ContentID: 200, CommandStatus: model.CommandQueued, DispatchedAt: time.Now()},
	}}

	m := New(fixedClock{t: time.Now()}, nil)
	result := m.Poll(context.Background(), q, client, 9)

	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.StillOpen)
	assert.Equal(t, model.CommandCompleted, q.setCalls[1])
	assert.Equal(t, model.CommandFailed, q.setCalls[2])
	assert.Equal(t, model.CommandStarted, q.setCalls[3])
}

func TestPoll_SameStatusDoesNotRewrite(t *testing.T) {
	client := newTestClient(t, map[string]string{"cmd-1": "queued"})
	q := &fakeQuerier{open: []model.PendingCommand{
		{ID: 1, ConnectorID: 9, CommandID: "cmd-1", ContentType: model.ContentEpisode, ContentID: 100, CommandStatus: model.CommandQueued, DispatchedAt: time.Now()},
	}}

	m := New(fixedClock{t: time.Now()}, nil)
	result := m.Poll(context.Background(), q, client, 9)

	assert.Equal(t, 1, result.StillOpen)
	assert.Empty(t, q.setCalls)
}

func TestForceCloseStale_UsesClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{}
	m := New(fixedClock{t: now}, nil)

	n, err := m.ForceCloseStale(context.Background(), q, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.Contains(t, q.execCalls, "pending_command_force_close")
}
