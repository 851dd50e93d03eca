package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scfcore/internal/journal/core"
)

func entry(id, calc string) core.Entry {
	return core.Entry{
		ID: id, System: "sys", Calculator: calc, Method: "HF", Fingerprint: "fp-" + calc,
		Structure: "heh+", Energy: -2.84, Properties: "energy,gradients", Duration: time.Second,
		RecordedAt: time.Date(2026, 5, 6, 7, 8, 9, 10, time.UTC),
	}
}

func TestRecordListReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Path() != path || s.Driver() != core.DriverSQLite {
		t.Fatalf("path %s driver %s", s.Path(), s.Driver())
	}
	for _, e := range []core.Entry{entry("1", "HF"), entry("2", "DFT"), entry("3", "HF")} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := s.Record(ctx, entry("2", "DFT")); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	all, err := s.List(ctx, core.Filter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("list: %v %v", all, err)
	}
	want := entry("1", "HF")
	if all[0] != want {
		t.Fatalf("round trip\n got %+v\nwant %+v", all[0], want)
	}
	hf, err := s.List(ctx, core.Filter{Calculator: "HF"})
	if err != nil || len(hf) != 2 || hf[1].ID != "3" {
		t.Fatalf("hf: %v %v", hf, err)
	}
	limited, err := s.List(ctx, core.Filter{Structure: "heh+", Limit: 2})
	if err != nil || len(limited) != 2 || limited[0].ID != "1" {
		t.Fatalf("limited: %v %v", limited, err)
	}
	if err := s.Record(ctx, entry("4", "CC")); err != nil {
		t.Fatalf("record after reopen: %v", err)
	}
	all, _ = s.List(ctx, core.Filter{})
	if all[len(all)-1].ID != "4" {
		t.Fatalf("sequence not continued: %v", all)
	}
}
