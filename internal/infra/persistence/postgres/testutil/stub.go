// Package testutil provides a fake database/sql driver for the postgres
// snapshot store and the expense ledger. It understands the handful of
// statement shapes those packages issue and keeps rows in memory.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	insertRe = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\([^)]*\)(?:\s+ON\s+CONFLICT\s*\(\s*(\w+)\s*\)\s+DO\s+(NOTHING|UPDATE))?`)
	selectRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)`)
	deleteRe = regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\s+(\w+)\s+WHERE\s+(\w+)\s*=`)
	ddlRe    = regexp.MustCompile(`(?is)^\s*(CREATE|TRUNCATE|DROP)\b`)
)

// ErrUnsupported is returned for statements the stub does not understand.
var ErrUnsupported = errors.New("testutil: unsupported statement")

// StubConn is the single connection behind a stub DB. Tests read Execs and
// Tables and flip the Fail* switches to inject errors.
type StubConn struct {
	mu sync.Mutex

	Execs  []string
	Tables map[string][]map[string]any

	FailExec   bool
	FailBegin  bool
	FailCommit bool
	// FailTables fails inserts into and selects from the named tables.
	FailTables map[string]bool
	// RowsErr is returned after the last row of every query.
	RowsErr error
}

var driverSeq atomic.Int64

// NewStubDB registers a fresh driver and returns a DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("herdstub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the
// ExecerContext and QueryerContext fast paths instead.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("%w: prepare %q", ErrUnsupported, query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx. Writes are applied immediately;
// the transaction only reports commit failures.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	return stubTx{conn: c}, nil
}

// Ping implements driver.Pinger and fails together with FailExec.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("stub: connection refused")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	switch {
	case insertRe.MatchString(query):
		return c.insert(insertRe.FindStringSubmatch(query), args)
	case deleteRe.MatchString(query):
		m := deleteRe.FindStringSubmatch(query)
		if len(args) == 0 {
			return nil, fmt.Errorf("stub: delete from %s without argument", m[1])
		}
		table, col := strings.ToLower(m[1]), strings.ToLower(m[2])
		kept := c.Tables[table][:0]
		removed := 0
		for _, row := range c.Tables[table] {
			if row[col] == args[0].Value {
				removed++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(removed), nil
	case ddlRe.MatchString(query):
		if strings.EqualFold(ddlRe.FindStringSubmatch(query)[1], "TRUNCATE") {
			c.Tables = make(map[string][]map[string]any)
		}
		return driver.RowsAffected(0), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, query)
}

func (c *StubConn) insert(m []string, args []driver.NamedValue) (driver.Result, error) {
	table := strings.ToLower(m[1])
	if c.FailTables[table] {
		return nil, fmt.Errorf("stub: insert into %s failed", table)
	}
	cols := columns(m[2])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("stub: %s has %d columns but %d arguments", table, len(cols), len(args))
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	key, action := strings.ToLower(m[3]), strings.ToUpper(m[4])
	if key != "" {
		for i, existing := range c.Tables[table] {
			if existing[key] != row[key] {
				continue
			}
			if action == "NOTHING" {
				return driver.RowsAffected(0), nil
			}
			c.Tables[table][i] = row
			return driver.RowsAffected(1), nil
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for plain column selects.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := selectRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, query)
	}
	table := strings.ToLower(m[2])
	if c.FailTables[table] {
		return nil, fmt.Errorf("stub: select from %s failed", table)
	}
	cols := columns(m[1])
	out := &stubRows{cols: cols, err: c.RowsErr}
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	return nil
}

func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

func columns(list string) []string {
	fields := strings.Split(list, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(strings.TrimSpace(f)))
	}
	return out
}
