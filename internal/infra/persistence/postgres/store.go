// Package postgres implements the calculation journal on PostgreSQL through
// the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"scfcore/internal/journal/core"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/scfcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS calculations (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		system TEXT NOT NULL,
		calculator TEXT NOT NULL,
		method TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		structure TEXT NOT NULL,
		energy DOUBLE PRECISION NOT NULL,
		properties TEXT NOT NULL,
		duration_ns BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calculations_fingerprint_idx ON calculations (fingerprint)`,
}

// Store appends journal entries to the calculations table.
type Store struct {
	db *sql.DB
}

// NewStore connects with dsn (falling back to a local default), pings the
// server and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

func (s *Store) Record(ctx context.Context, e core.Entry) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO calculations (id, system, calculator, method, fingerprint, structure, energy, properties, duration_ns, recorded_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.System, e.Calculator, e.Method, e.Fingerprint, e.Structure, e.Energy, e.Properties, int64(e.Duration), e.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, e.ID)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f core.Filter) ([]core.Entry, error) {
	var where []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"calculator", f.Calculator},
		{"fingerprint", f.Fingerprint},
		{"structure", f.Structure},
	} {
		if c.val != "" {
			args = append(args, c.val)
			where = append(where, fmt.Sprintf("%s = $%d", c.col, len(args)))
		}
	}
	q := `SELECT id, system, calculator, method, fingerprint, structure, energy, properties, duration_ns, recorded_at FROM calculations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select calculations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		var dur int64
		if err := rows.Scan(&e.ID, &e.System, &e.Calculator, &e.Method, &e.Fingerprint, &e.Structure, &e.Energy, &e.Properties, &dur, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan calculations: %w", err)
		}
		e.Duration = time.Duration(dur)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculations: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
