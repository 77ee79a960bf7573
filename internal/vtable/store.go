package vtable

import (
	"fmt"

	"github.com/squidgetx/hekastore/internal/clock"
)

// Store is the explicit, owned collection of tables a worker operates
// over — it replaces the source's global Database singleton (§9:
// "Replace process-wide singletons with an explicit owned handle passed
// to workers").
type Store struct {
	tables map[uint32]*Table
}

// NewStore builds a Store from a fixed set of tables, keyed by their ID.
func NewStore(tables ...*Table) *Store {
	s := &Store{tables: make(map[uint32]*Table, len(tables))}
	for _, t := range tables {
		s.tables[t.ID] = t
	}
	return s
}

// Table looks up a table by id.
func (s *Store) Table(id uint32) (*Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("vtable: no table with id %d", id)
	}
	return t, nil
}

// GetVersion resolves a CompositeKey through its table.
func (s *Store) GetVersion(key clock.CompositeKey, ts clock.Timestamp) (*Record, OwnerHandle, error) {
	t, err := s.Table(key.TableID)
	if err != nil {
		return nil, nil, err
	}
	return t.GetVersion(key.Key, ts)
}

// Open marks every table in the store as past initialization.
func (s *Store) Open() {
	for _, t := range s.tables {
		t.Open()
	}
}

// Tables returns every table in id order is not guaranteed; callers that
// need determinism should sort.
func (s *Store) Tables() []*Table {
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}
