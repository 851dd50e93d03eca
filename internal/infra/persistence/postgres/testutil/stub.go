// Package testutil provides an in-memory database/sql driver that
// understands the statements issued by the postgres journal.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// StubConn records statements and keeps inserted rows per table.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Tables    map[string][]map[string]any
	FailPing  bool
	FailExec  bool
	FailQuery bool
}

var stubSeq atomic.Int64

// NewStubDB registers a fresh driver instance and opens it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
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
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if strings.Contains(strings.ToUpper(query), "DO NOTHING") {
		for _, existing := range c.Tables[table] {
			if existing[cols[0]] == row[cols[0]] {
				return driver.RowsAffected(0), nil
			}
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext. It honors equality
// predicates joined by AND and a trailing LIMIT.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	arg := func(ref string) (any, error) {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(ref), "$"))
		if err != nil || n < 1 || n > len(args) {
			return nil, fmt.Errorf("bad placeholder %q", ref)
		}
		return args[n-1].Value, nil
	}
	var values [][]driver.Value
	for _, row := range c.Tables[sel.table] {
		keep := true
		for col, ref := range sel.where {
			v, err := arg(ref)
			if err != nil {
				return nil, err
			}
			if row[col] != v {
				keep = false
			}
		}
		if !keep {
			continue
		}
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	if sel.limit != "" {
		v, err := arg(sel.limit)
		if err != nil {
			return nil, err
		}
		if n, ok := v.(int64); ok && int(n) < len(values) {
			values = values[:n]
		}
	}
	return &stubRows{cols: sel.cols, rows: values}, nil
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
	if open == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), splitColumns(rest[open+1 : closeIdx]), nil
}

type selectStmt struct {
	table string
	cols  []string
	where map[string]string
	limit string
}

func parseSelect(query string) (selectStmt, error) {
	lower := strings.ToLower(query)
	fromIdx := strings.Index(lower, " from ")
	if !strings.HasPrefix(lower, "select ") || fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	st := selectStmt{cols: splitColumns(query[len("select "):fromIdx]), where: map[string]string{}}
	rest := strings.Fields(lower[fromIdx+len(" from "):])
	if len(rest) == 0 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	st.table = rest[0]
	tail := strings.Join(rest[1:], " ")
	if i := strings.Index(tail, "limit "); i >= 0 {
		st.limit = strings.TrimSpace(tail[i+len("limit "):])
		tail = tail[:i]
	}
	if i := strings.Index(tail, "order by"); i >= 0 {
		tail = tail[:i]
	}
	if where, ok := strings.CutPrefix(strings.TrimSpace(tail), "where "); ok {
		for _, pred := range strings.Split(where, " and ") {
			col, ref, ok := strings.Cut(pred, "=")
			if !ok {
				return selectStmt{}, fmt.Errorf("cannot parse predicate %q", pred)
			}
			st.where[strings.TrimSpace(col)] = strings.TrimSpace(ref)
		}
	}
	return st, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
