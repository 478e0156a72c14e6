// Package mysqltest provides a scripted database/sql driver for store tests.
// Each expected statement is queued in order; the driver fails on the first
// operation that does not match the script.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opKind int

const (
	opExec opKind = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (k opKind) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[k]
}

// Op is one scripted driver interaction.
type Op struct {
	kind   opKind
	query  string
	result Result
	rows   Rows
	err    error
	check  func(args []driver.NamedValue) error
}

// Result is returned by a scripted exec.
type Result struct {
	LastInsertID int64
	Affected     int64
}

func (r Result) LastInsertId() (int64, error) { return r.LastInsertID, nil }
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Rows is returned by a scripted query.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects an ExecContext with the given SQL (whitespace-insensitive).
func Exec(query string, result Result) Op { return Op{kind: opExec, query: query, result: result} }

// Query expects a QueryContext with the given SQL.
func Query(query string, rows Rows) Op { return Op{kind: opQuery, query: query, rows: rows} }

// Begin expects a transaction start.
func Begin() Op { return Op{kind: opBegin} }

// Commit expects a commit.
func Commit() Op { return Op{kind: opCommit} }

// Rollback expects a rollback.
func Rollback() Op { return Op{kind: opRollback} }

// WithError makes the operation fail with err.
func (o Op) WithError(err error) Op {
	o.err = err
	return o
}

// WithArgs asserts the positional arguments of the operation.
func (o Op) WithArgs(want ...any) Op {
	o.check = func(args []driver.NamedValue) error {
		if len(args) != len(want) {
			return fmt.Errorf("want %d args, got %d", len(want), len(args))
		}
		for i, w := range want {
			if fmt.Sprint(args[i].Value) != fmt.Sprint(w) {
				return fmt.Errorf("arg %d: want %v, got %v", i+1, w, args[i].Value)
			}
		}
		return nil
	}
	return o
}

// Driver replays a script of operations.
type Driver struct {
	mu  sync.Mutex
	ops []Op
	idx int
}

var seq atomic.Int32

// Open registers a fresh driver with the script and opens a single-connection pool.
func Open(t *testing.T, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", seq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed fails the test when part of the script was not replayed.
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) { return &conn{driver: d}, nil }

func (d *Driver) next(kind opKind, query string, args []driver.NamedValue) (*Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", kind, Normalize(query))
	}
	op := &d.ops[d.idx]
	if op.kind != kind {
		return nil, fmt.Errorf("expected %s, got %s", op.kind, kind)
	}
	d.idx++
	if op.query != "" && Normalize(op.query) != Normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", Normalize(op.query), Normalize(query))
	}
	if op.check != nil {
		if err := op.check(args); err != nil {
			return nil, fmt.Errorf("%s: %w", Normalize(query), err)
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize collapses whitespace so scripts can be written across lines.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
