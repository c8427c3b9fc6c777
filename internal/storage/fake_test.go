package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeQuerier is a hand-rolled stand-in for Querier. The teacher's tests use
// go-sqlmock, but that mocks database/sql's driver, not pgx's — since this
// package talks to pgx directly (pgx.Rows, pgconn.CommandTag), a small fake
// implementing the same narrow Querier/Rows interfaces this package defines
// is the closer fit, and keeps these tests free of a live Postgres.
type fakeQuerier struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.execFn == nil {
		return pgconn.CommandTag{}, fmt.Errorf("unexpected Exec(%q)", sql)
	}
	return f.execFn(ctx, sql, args...)
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryFn == nil {
		return nil, fmt.Errorf("unexpected Query(%q)", sql)
	}
	return f.queryFn(ctx, sql, args...)
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn == nil {
		return errRow{err: fmt.Errorf("unexpected QueryRow(%q)", sql)}
	}
	return f.queryRowFn(ctx, sql, args...)
}

// errRow is a pgx.Row that always fails to scan, for QueryRow paths a test
// doesn't expect to hit.
type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// singleRow is a pgx.Row backed by one fixed tuple of values.
type singleRow struct {
	values []any
	err    error
}

func (r singleRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan mismatch: got %d dest, want %d", len(dest), len(r.values))
	}
	for i, v := range r.values {
		if err := assignScan(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

// noRowsRow reports pgx.ErrNoRows on Scan, matching a query that matched
// nothing.
type noRowsRow struct{}

func (noRowsRow) Scan(dest ...any) error { return pgx.ErrNoRows }

// fakeRows is a pgx.Rows stand-in backed by an in-memory tuple slice.
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
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
	if len(dest) != len(row) {
		return fmt.Errorf("scan mismatch: got %d dest, want %d", len(dest), len(row))
	}
	for i, v := range row {
		if err := assignScan(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeRows) Err() error                            { return r.err }
func (r *fakeRows) Close()                                {}
func (r *fakeRows) CommandTag() pgconn.CommandTag         { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                   { return nil }
func (r *fakeRows) Conn() *pgx.Conn                        { return nil }

// assignScan assigns v into the pointer dest, using reflection so custom
// string-enum types (model.ConnectorType and friends) and nullable pointer
// fields both convert without an exhaustive type switch.
func assignScan(dest any, v any) error {
	if v == nil {
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scan destination must be a non-nil pointer, got %T", dest)
	}
	elem := dv.Elem()
	vv := reflect.ValueOf(v)

	// Nullable field: dest is **T, value is a plain T.
	if elem.Kind() == reflect.Ptr {
		inner := reflect.New(elem.Type().Elem())
		if !vv.Type().ConvertibleTo(elem.Type().Elem()) {
			return fmt.Errorf("cannot assign %T into %s", v, elem.Type())
		}
		inner.Elem().Set(vv.Convert(elem.Type().Elem()))
		elem.Set(inner)
		return nil
	}

	if !vv.Type().ConvertibleTo(elem.Type()) {
		return fmt.Errorf("cannot assign %T into %s", v, elem.Type())
	}
	elem.Set(vv.Convert(elem.Type()))
	return nil
}

var errUnsupportedScan = errors.New("unsupported scan target in fake")
