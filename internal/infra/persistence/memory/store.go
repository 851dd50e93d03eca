// Package memory implements the calculation journal in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"

	"scfcore/internal/journal/core"
)

// Store keeps entries in recording order.
type Store struct {
	mu      sync.RWMutex
	entries []core.Entry
	ids     map[string]struct{}
	closed  bool
}

// NewStore returns an empty journal.
func NewStore() *Store { return &Store{ids: make(map[string]struct{})} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

func (s *Store) Record(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if _, dup := s.ids[e.ID]; dup {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, e.ID)
	}
	s.ids[e.ID] = struct{}{}
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) List(_ context.Context, f core.Filter) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrClosed
	}
	var out []core.Entry
	for _, e := range s.entries {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
