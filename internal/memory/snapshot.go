package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/fyrsmithlabs/kazuba/internal/fsutil"
	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// Snapshot is the serialised form of a store.
type Snapshot struct {
	Capacity int                  `json:"capacity"`
	Entries  []models.MemoryEntry `json:"entries"`
}

// Snapshot copies the capacity and every entry.
func (m *WorkingMemory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Capacity: m.capacity, Entries: m.allLocked()}
}

// FromSnapshot rebuilds a store. A zero capacity means DefaultCapacity.
// Surplus entries are evicted in score order so the bound holds.
func FromSnapshot(s Snapshot, opts ...Option) (*WorkingMemory, error) {
	capacity := s.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	m, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	m.restoreLocked(s.Entries)
	return m, nil
}

// restoreLocked must run before m is shared or with m.mu held.
func (m *WorkingMemory) restoreLocked(entries []models.MemoryEntry) {
	clear(m.entries)
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	for len(m.entries) > m.capacity {
		m.evictOneLocked()
	}
}

// SaveFile writes the snapshot as indented JSON.
func (m *WorkingMemory) SaveFile(path string) error {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding working memory: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data)
}

// LoadFile replaces the entries with those in the file at path. The
// configured capacity is kept.
func (m *WorkingMemory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.restoreLocked(s.Entries)
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
