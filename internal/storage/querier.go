package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool (or a transaction) the storage
// layer depends on. Narrowing to an interface lets tests substitute the
// hand-rolled fakeQuerier in fake_test.go without touching a live Postgres
// instance.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Rows narrows pgx.Rows to what scan loops need.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}
