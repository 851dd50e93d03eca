// Package sqlite implements the calculation journal on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"scfcore/internal/journal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS calculations (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	system TEXT NOT NULL,
	calculator TEXT NOT NULL,
	method TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	structure TEXT NOT NULL,
	energy REAL NOT NULL,
	properties TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	recorded_at_ns INTEGER NOT NULL
)`

// Store appends journal entries to a single table. Writes are serialized.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens or creates the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "scfcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create calculations table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

func (s *Store) Record(ctx context.Context, e core.Entry) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM calculations WHERE id = ?`, e.ID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup %s: %w", e.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, e.ID)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO calculations
		(id, seq, system, calculator, method, fingerprint, structure, energy, properties, duration_ns, recorded_at_ns)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM calculations), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.System, e.Calculator, e.Method, e.Fingerprint, e.Structure, e.Energy, e.Properties,
		int64(e.Duration), e.RecordedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert %s: %w", e.ID, err)
	}
	return tx.Commit()
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
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	q := `SELECT id, system, calculator, method, fingerprint, structure, energy, properties, duration_ns, recorded_at_ns FROM calculations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select calculations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		var dur, at int64
		if err := rows.Scan(&e.ID, &e.System, &e.Calculator, &e.Method, &e.Fingerprint, &e.Structure, &e.Energy, &e.Properties, &dur, &at); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Duration = time.Duration(dur)
		e.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculations: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
