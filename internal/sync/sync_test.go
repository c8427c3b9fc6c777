package sync

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

// fakeQuerier records registry_upsert calls by content id so the test can
// assert idempotency without a live Postgres.
type fakeQuerier struct {
	seen map[int64]bool
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if sql != "registry_upsert" {
		return noRowsRow{}
	}
	contentID := args[2].(int64)
	if q.seen[contentID] {
		return noRowsRow{}
	}
	if q.seen == nil {
		q.seen = make(map[int64]bool)
	}
	q.seen[contentID] = true
	return singleRow{id: contentID}
}

type noRowsRow struct{}

func (noRowsRow) Scan(dest ...any) error { return pgx.ErrNoRows }

type singleRow struct{ id int64 }

func (r singleRow) Scan(dest ...any) error {
	*dest[0].(*int64) = r.id
	return nil
}

func wantedMissingServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "1" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"records": []json.RawMessage{
					json.RawMessage(`{"id": 1, "title": "ep-one"}`),
					json.RawMessage(`{"id": "bad"}`),
				},
				"totalRecords": 2,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"records": []json.RawMessage{}, "totalRecords": 2})
	}))
}

func TestDiscoverViaWantedEndpoints_IdempotentAcrossTwoRuns(t *testing.T) {
	srv := wantedMissingServer(t)
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: srv.URL, APIKey: "key", UserAgent: "test", Timeout: 5 * time.Second, MaxAttempts: 1,
	}, nil)

	connector := model.Connector{ID: 1, Type: model.ConnectorSeries}
	q := &fakeQuerier{}

	it1 := client.NewWantedMissingIterator(nil)
	found1, created1, skipped1, err := DiscoverViaWantedEndpoints(context.Background(), q, connector, it1, model.ContentEpisode, model.SearchGap, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, found1)
	assert.Equal(t, 1, created1)
	assert.Equal(t, 1, skipped1)

	// Second pass over the same catalog: same record already has a live
	// registry, so UPSERT's ON CONFLICT DO NOTHING means zero created.
	it2 := client.NewWantedMissingIterator(nil)
	found2, created2, skipped2, err := DiscoverViaWantedEndpoints(context.Background(), q, connector, it2, model.ContentEpisode, model.SearchGap, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, found2)
	assert.Equal(t, 0, created2)
	assert.Equal(t, 1, skipped2)
}
