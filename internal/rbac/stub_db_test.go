package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []interface{}
}

type stubDB struct {
	rows    map[string][]interface{}
	execs   []execCall
	queries int
	execErr error
}

func (s *stubDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, execCall{sql: sql, args: args})
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	return pgconn.NewCommandTag("OK 1"), nil
}

func (s *stubDB) Query(_ context.Context, sql string, _ ...interface{}) (pgx.Rows, error) {
	s.queries++
	for fragment, values := range s.rows {
		if strings.Contains(sql, fragment) {
			return &stubRows{values: values, index: -1}, nil
		}
	}
	return &stubRows{index: -1}, nil
}

func (s *stubDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return &stubRow{err: pgx.ErrNoRows}
}

type stubRows struct {
	values []interface{}
	index  int
}

func (r *stubRows) Close() {
	r.index = len(r.values)
}

func (r *stubRows) Err() error {
	return nil
}

func (r *stubRows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag{}
}

func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (r *stubRows) Next() bool {
	if r.index+1 >= len(r.values) {
		r.index = len(r.values)
		return false
	}
	r.index++
	return true
}

func (r *stubRows) Scan(dest ...interface{}) error {
	if r.index < 0 || r.index >= len(r.values) {
		return fmt.Errorf("no row available")
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.values[r.index].(string)
	case *int64:
		*d = r.values[r.index].(int64)
	default:
		return fmt.Errorf("unsupported destination %T", dest[0])
	}
	return nil
}

func (r *stubRows) Values() ([]interface{}, error) {
	return []interface{}{r.values[r.index]}, nil
}

func (r *stubRows) RawValues() [][]byte {
	return nil
}

func (r *stubRows) Conn() *pgx.Conn {
	return nil
}

type stubRow struct {
	err error
}

func (r *stubRow) Scan(...interface{}) error {
	return r.err
}
