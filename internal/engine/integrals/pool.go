// Package integrals manages reference-counted integral evaluation handles.
// A Pool is shared by every calculator that should reuse handles; each
// calculator holds a Lease over a fixed set of handle keys and releases it
// when closed.
package integrals

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Operator names the integral operator a handle evaluates.
type Operator string

// Supported operators.
const (
	Coulomb Operator = "coulomb"
)

// Key identifies a handle category.
type Key struct {
	Operator   Operator
	DerivOrder int
	MaxL       int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/d%d/l%d", k.Operator, k.DerivOrder, k.MaxL)
}

// CalculatorKeys is the handle set every calculator keeps alive.
var CalculatorKeys = []Key{
	{Operator: Coulomb, DerivOrder: 0, MaxL: 2},
	{Operator: Coulomb, DerivOrder: 0, MaxL: 3},
	{Operator: Coulomb, DerivOrder: 0, MaxL: 4},
	{Operator: Coulomb, DerivOrder: 1, MaxL: 2},
	{Operator: Coulomb, DerivOrder: 1, MaxL: 3},
	{Operator: Coulomb, DerivOrder: 1, MaxL: 4},
}

// ErrReleased is returned when a handle is requested through a released lease.
var ErrReleased = errors.New("integrals: lease released")

// ErrNotHeld is returned when a lease does not cover the requested key.
var ErrNotHeld = errors.New("integrals: handle not held by lease")

// Provider hands out handles to engine code.
type Provider interface {
	Handle(k Key) (*Handle, error)
}

type entry struct {
	handle *Handle
	refs   int
}

// Pool owns handles and their reference counts.
type Pool struct {
	mu      sync.Mutex
	entries map[Key]*entry
	built   int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[Key]*entry)}
}

// Acquire increments the reference count of every key, building handles on
// first use, and returns a lease releasing exactly those keys.
func (p *Pool) Acquire(keys ...Key) *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()
	held := make(map[Key]*Handle, len(keys))
	for _, k := range keys {
		if _, dup := held[k]; dup {
			continue
		}
		e, ok := p.entries[k]
		if !ok {
			e = &entry{handle: newHandle(k)}
			p.entries[k] = e
			p.built++
		}
		e.refs++
		held[k] = e.handle
	}
	return &Lease{pool: p, held: held}
}

func (p *Pool) release(keys []Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		e, ok := p.entries[k]
		if !ok {
			continue
		}
		e.refs--
		if e.refs <= 0 {
			delete(p.entries, k)
		}
	}
}

// RefCount returns the live reference count for k.
func (p *Pool) RefCount(k Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[k]; ok {
		return e.refs
	}
	return 0
}

// Live lists keys with a positive reference count.
func (p *Pool) Live() []Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Key, 0, len(p.entries))
	for k := range p.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Built returns how many handles were constructed over the pool lifetime.
func (p *Pool) Built() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built
}

// Lease is a counted reference to a set of handles.
type Lease struct {
	mu       sync.Mutex
	pool     *Pool
	held     map[Key]*Handle
	released bool
}

// Handle returns the handle for k while the lease is active.
func (l *Lease) Handle(k Key) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrReleased
	}
	h, ok := l.held[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotHeld, k)
	}
	return h, nil
}

// Pool returns the pool the lease was drawn from.
func (l *Lease) Pool() *Pool { return l.pool }

// Release drops the lease's references. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	keys := make([]Key, 0, len(l.held))
	for k := range l.held {
		keys = append(keys, k)
	}
	l.mu.Unlock()
	l.pool.release(keys)
}
