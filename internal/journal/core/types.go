// Package core defines the calculation journal contract shared by the
// persistence drivers and the journal facade.
package core

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a journal backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Entry records one successful calculation.
type Entry struct {
	ID          string        `json:"id"`
	System      string        `json:"system"`
	Calculator  string        `json:"calculator"`
	Method      string        `json:"method"`
	Fingerprint string        `json:"fingerprint"`
	Structure   string        `json:"structure"`
	Energy      float64       `json:"energy"`
	Properties  string        `json:"properties"`
	Duration    time.Duration `json:"duration"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Filter narrows List results. Zero fields match everything; Limit <= 0
// means no limit.
type Filter struct {
	Calculator  string
	Fingerprint string
	Structure   string
	Limit       int
}

// Matches reports whether e passes the filter fields other than Limit.
func (f Filter) Matches(e Entry) bool {
	return (f.Calculator == "" || f.Calculator == e.Calculator) &&
		(f.Fingerprint == "" || f.Fingerprint == e.Fingerprint) &&
		(f.Structure == "" || f.Structure == e.Structure)
}

// Journal is an append-only log of calculations. List returns entries in
// recording order.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
	Driver() Driver
	Close() error
}

var (
	// ErrDuplicate is returned when an entry ID was already recorded.
	ErrDuplicate = errors.New("journal: duplicate entry")
	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal: closed")
)
