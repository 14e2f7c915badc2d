// Package testdb provides a recording database/sql driver for tests
// that need to see which statements a unit of work issued and which
// pooled connection each one ran on. Every Exec succeeds and reports
// one affected row; query results are canned per query substring.
package testdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Statement is one SQL statement seen by the recorder. Conn identifies
// the pool connection that executed it, numbered in open order.
type Statement struct {
	Conn  int
	Query string
}

type result struct {
	match   string
	columns []string
	rows    [][]driver.Value
}

// Recorder collects the statements executed against a database opened
// with Open.
type Recorder struct {
	mu         sync.Mutex
	statements []Statement
	results    []result
	conns      atomic.Int32
}

// On cans the rows returned by any query containing match. Queries with
// no canned result return zero rows.
func (r *Recorder) On(match string, columns []string, rows ...[]driver.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result{match: match, columns: columns, rows: rows})
}

// Statements returns a copy of everything recorded so far.
func (r *Recorder) Statements() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Statement, len(r.statements))
	copy(out, r.statements)
	return out
}

// ConnsUsed returns how many distinct connections executed statements.
func (r *Recorder) ConnsUsed() int {
	seen := map[int]bool{}
	for _, s := range r.Statements() {
		seen[s.Conn] = true
	}
	return len(seen)
}

func (r *Recorder) record(conn int, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, Statement{Conn: conn, Query: query})
}

func (r *Recorder) lookup(query string) ([]string, [][]driver.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.results {
		if strings.Contains(query, res.match) {
			return res.columns, res.rows
		}
	}
	return nil, nil
}

var driverSeq atomic.Int64

// Open registers a fresh recording driver and returns a database backed
// by it together with its recorder.
func Open() (*sql.DB, *Recorder) {
	rec := &Recorder{}
	name := fmt.Sprintf("recording-%d", driverSeq.Add(1))
	sql.Register(name, &recordingDriver{rec: rec})
	db, err := sql.Open(name, "")
	if err != nil {
		// sql.Open on a registered driver only fails on a bad name.
		panic(err)
	}
	return db, rec
}

type recordingDriver struct {
	rec *Recorder
}

func (d *recordingDriver) Open(string) (driver.Conn, error) {
	id := int(d.rec.conns.Add(1))
	return &recordingConn{rec: d.rec, id: id}, nil
}

type recordingConn struct {
	rec *Recorder
	id  int
}

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepared statements are not supported")
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *recordingConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.rec.record(c.id, "BEGIN")
	return &recordingTx{conn: c}, nil
}

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.rec.record(c.id, query)
	return driver.RowsAffected(1), nil
}

func (c *recordingConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.rec.record(c.id, query)
	columns, rows := c.rec.lookup(query)
	return &cannedRows{columns: columns, rows: rows}, nil
}

type recordingTx struct {
	conn *recordingConn
}

func (t *recordingTx) Commit() error {
	t.conn.rec.record(t.conn.id, "COMMIT")
	return nil
}

func (t *recordingTx) Rollback() error {
	t.conn.rec.record(t.conn.id, "ROLLBACK")
	return nil
}

type cannedRows struct {
	columns []string
	rows    [][]driver.Value
	next    int
}

func (r *cannedRows) Columns() []string { return r.columns }

func (r *cannedRows) Close() error { return nil }

func (r *cannedRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
