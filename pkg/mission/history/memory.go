package history

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore keeps records in memory. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.RunID == "" {
		return ErrEmptyRunID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	rec.Blackboard = maps.Clone(rec.Blackboard)
	m.records[rec.RunID] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, runID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := m.records[runID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Blackboard = maps.Clone(rec.Blackboard)
	return rec, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, mission string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var out []Record
	for _, rec := range m.records {
		if mission != "" && rec.Mission != mission {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Finished.Equal(out[j].Finished) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].Finished.After(out[j].Finished)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.records, runID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
