package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"scfcore/internal/infra/persistence/postgres/testutil"
	"scfcore/internal/journal/core"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver || dsn != defaultDSN {
			t.Fatalf("unexpected open %s %s", driverName, dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, conn
}

func entry(id, calc, fp string) core.Entry {
	return core.Entry{
		ID: id, System: "sys-" + id, Calculator: calc, Method: "PBE", Fingerprint: fp,
		Structure: "h2", Energy: -1.16, Properties: "energy", Duration: 3 * time.Millisecond,
		RecordedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestNewStoreAppliesSchema(t *testing.T) {
	s, conn := newStubStore(t)
	if s.Driver() != core.DriverPostgres {
		t.Fatalf("driver %s", s.Driver())
	}
	if len(conn.Execs) != len(ddl) || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS calculations") {
		t.Fatalf("ddl not applied: %v", conn.Execs)
	}
}

func TestNewStoreFailures(t *testing.T) {
	for name, mutate := range map[string]func(*testutil.StubConn){
		"ping": func(c *testutil.StubConn) { c.FailPing = true },
		"ddl":  func(c *testutil.StubConn) { c.FailExec = true },
	} {
		db, conn := testutil.NewStubDB()
		mutate(conn)
		restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
		_, err := NewStore(context.Background(), "postgres://x")
		restore()
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	s, _ := newStubStore(t)
	for _, e := range []core.Entry{entry("a", "DFT", "f1"), entry("b", "HF", "f2"), entry("c", "DFT", "f1")} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %s: %v", e.ID, err)
		}
	}
	if err := s.Record(ctx, entry("a", "DFT", "f1")); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	all, err := s.List(ctx, core.Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %v", all, err)
	}
	if all[0].ID != "a" || all[0].Duration != 3*time.Millisecond || !all[0].RecordedAt.Equal(entry("a", "", "").RecordedAt) {
		t.Fatalf("first entry %+v", all[0])
	}
	dft, err := s.List(ctx, core.Filter{Calculator: "DFT", Fingerprint: "f1"})
	if err != nil || len(dft) != 2 || dft[1].ID != "c" {
		t.Fatalf("filtered: %v %v", dft, err)
	}
	one, err := s.List(ctx, core.Filter{Calculator: "DFT", Limit: 1})
	if err != nil || len(one) != 1 {
		t.Fatalf("limited: %v %v", one, err)
	}
}
