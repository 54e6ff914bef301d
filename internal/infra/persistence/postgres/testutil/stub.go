// Package testutil provides a stub database for postgres store tests. It
// understands the handful of statement shapes the document store issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"time"
)

// StubConn records statements and keeps rows in memory.
type StubConn struct {
	mu       sync.Mutex
	Execs    []string
	Tables   map[string][]map[string]any
	FailExec bool
	FailPing bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		return c.insert(query, args)
	case strings.HasPrefix(upper, "UPDATE"):
		return c.update(query, args)
	}
	return driver.RowsAffected(0), nil
}

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = clone(args[i].Value)
	}
	primary := cols[0]
	upper := strings.ToUpper(query)
	for i, existing := range c.Tables[table] {
		if !reflect.DeepEqual(existing[primary], row[primary]) {
			continue
		}
		switch {
		case strings.Contains(upper, "DO NOTHING"):
			return driver.RowsAffected(0), nil
		case strings.Contains(upper, "DO UPDATE"):
			c.Tables[table][i] = row
			return driver.RowsAffected(1), nil
		default:
			return nil, fmt.Errorf("duplicate key %v in %s", row[primary], table)
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) update(query string, args []driver.NamedValue) (driver.Result, error) {
	table, set, where, err := parseUpdate(query)
	if err != nil {
		return nil, err
	}
	if len(set)+len(where) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	conds := args[len(set):]
	var n int64
	for _, row := range c.Tables[table] {
		if !matches(row, where, conds) {
			continue
		}
		for i, col := range set {
			row[col] = clone(args[i].Value)
		}
		n++
	}
	return driver.RowsAffected(n), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	values := make([][]driver.Value, 0)
	for _, row := range c.Tables[table] {
		if !matches(row, where, args) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

func matches(row map[string]any, where []string, args []driver.NamedValue) bool {
	for i, col := range where {
		if i >= len(args) || !reflect.DeepEqual(row[col], args[i].Value) {
			return false
		}
	}
	return true
}

func clone(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1:closeIdx], ","), nil
}

// parseUpdate handles UPDATE t SET a = $1, b = $2 WHERE c = $3 AND d = $4.
func parseUpdate(query string) (string, []string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	if setIdx == -1 || whereIdx == -1 || whereIdx < setIdx {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.TrimSpace(lower[len("update"):setIdx])
	set := splitColumns(lower[setIdx+len(" set "):whereIdx], ",")
	where := splitColumns(lower[whereIdx+len(" where "):], " and ")
	return table, set, where, nil
}

func parseSelect(query string) (string, []string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := splitColumns(lower[len("select "):fromIdx], ",")
	rest := strings.TrimSpace(lower[fromIdx+len(" from "):])
	var where []string
	if i := strings.Index(rest, " where "); i != -1 {
		where = splitColumns(rest[i+len(" where "):], " and ")
		rest = rest[:i]
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return fields[0], cols, where, nil
}

// splitColumns returns the column name of each "col" or "col = $n" part.
func splitColumns(raw, sep string) []string {
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		name, _, _ := strings.Cut(part, "=")
		out = append(out, strings.ToLower(strings.TrimSpace(name)))
	}
	return out
}
