package postgis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	tile []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("scan: want 1 dest, got %d", len(dest))
	}
	p, ok := dest[0].(*[]byte)
	if !ok {
		return fmt.Errorf("scan: unexpected dest %T", dest[0])
	}
	*p = r.tile
	return nil
}

type fakeRows struct {
	data   [][]any
	i      int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	if r.i == 0 {
		return nil, errors.New("no current row")
	}
	return r.data[r.i-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d dest for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			s, ok := row[i].(string)
			if !ok {
				return fmt.Errorf("column %d: cannot scan %T into string", i, row[i])
			}
			*p = s
		case *int32:
			n, ok := row[i].(int32)
			if !ok {
				return fmt.Errorf("column %d: cannot scan %T into int32", i, row[i])
			}
			*p = n
		default:
			return fmt.Errorf("column %d: unsupported dest %T", i, d)
		}
	}
	return nil
}

type fakeQuerier struct {
	mu       sync.Mutex
	row      fakeRow
	rows     *fakeRows
	queryErr error
	calls    int
	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) record(sql string, args []any) {
	q.mu.Lock()
	q.calls++
	q.lastSQL = sql
	q.lastArgs = args
	q.mu.Unlock()
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.record(sql, args)
	if q.queryErr != nil {
		return nil, q.queryErr
	}
	return q.rows, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.record(sql, args)
	return q.row
}
