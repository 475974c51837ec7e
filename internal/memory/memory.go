package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// DefaultCapacity is used by FromSnapshot when the snapshot carries none.
const DefaultCapacity = 1000

// ErrInvalidCapacity is returned for a capacity below 1.
var ErrInvalidCapacity = errors.New("capacity must be >= 1")

// Stats summarises the store.
type Stats struct {
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	FillRatio     float64 `json:"fill_ratio"`
	AvgImportance float64 `json:"avg_importance"`
}

// WorkingMemory is a capacity-bounded set of entries keyed by id.
type WorkingMemory struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]models.MemoryEntry

	now     func() time.Time
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a WorkingMemory.
type Option func(*WorkingMemory)

// WithClock replaces time.Now for touch timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *WorkingMemory) { m.now = now }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(m *WorkingMemory) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches OTel instruments.
func WithMetrics(mt *Metrics) Option {
	return func(m *WorkingMemory) { m.metrics = mt }
}

// New returns an empty store holding at most capacity entries.
func New(capacity int, opts ...Option) (*WorkingMemory, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidCapacity, capacity)
	}
	m := &WorkingMemory{
		capacity: capacity,
		entries:  make(map[string]models.MemoryEntry),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Add stores e and returns its id. An existing id is replaced in place;
// otherwise a full store first evicts its lowest-scoring entry. An
// importance outside [0, 1] is clamped, with NaN read as 0.
func (m *WorkingMemory) Add(e models.MemoryEntry) string {
	if err := models.ValidateImportance(e.Importance); err != nil {
		clamped := 0.0
		if !math.IsNaN(e.Importance) {
			clamped = min(max(e.Importance, 0), 1)
		}
		m.logger.Warn("memory entry importance clamped",
			zap.String("memory.id", e.ID),
			zap.Float64("importance", e.Importance),
			zap.Float64("clamped", clamped))
		e.Importance = clamped
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[e.ID]; !ok && len(m.entries) >= m.capacity {
		m.evictOneLocked()
	}
	m.entries[e.ID] = e
	return e.ID
}

// Get returns the touched version of the entry and stores it back.
func (m *WorkingMemory) Get(id string) (models.MemoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return models.MemoryEntry{}, false
	}
	touched := e.Touch(m.now())
	m.entries[id] = touched
	return touched, true
}

// Remove deletes the entry and reports whether it was present.
func (m *WorkingMemory) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return false
	}
	delete(m.entries, id)
	return true
}

// Clear drops every entry.
func (m *WorkingMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}

// Contains reports whether id is stored. It does not touch the entry.
func (m *WorkingMemory) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// SearchByTag touches every entry carrying tag and returns the touched
// versions, most valuable first.
func (m *WorkingMemory) SearchByTag(tag string) []models.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var matched []models.MemoryEntry
	for id, e := range m.entries {
		if !e.HasTag(tag) {
			continue
		}
		touched := e.Touch(now)
		m.entries[id] = touched
		matched = append(matched, touched)
	}
	sortByValue(matched)
	return matched
}

// TopK returns up to k entries, most valuable first, without touching
// them. A k below 1 yields an empty slice.
func (m *WorkingMemory) TopK(k int) []models.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k < 1 {
		return []models.MemoryEntry{}
	}
	all := m.allLocked()
	sortByValue(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// All returns every entry in no particular order.
func (m *WorkingMemory) All() []models.MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allLocked()
}

// UpdateImportance replaces the importance of an entry, leaving its
// access data alone. It reports whether the entry exists; an out-of-range
// importance is rejected before the lookup.
func (m *WorkingMemory) UpdateImportance(id string, importance float64) (bool, error) {
	if err := models.ValidateImportance(importance); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	updated, err := e.WithImportance(importance)
	if err != nil {
		return false, err
	}
	m.entries[id] = updated
	return true, nil
}

// Size is the number of stored entries.
func (m *WorkingMemory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Capacity is the configured bound.
func (m *WorkingMemory) Capacity() int {
	return m.capacity
}

// IsFull reports whether the next new entry would trigger an eviction.
func (m *WorkingMemory) IsFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries) >= m.capacity
}

// Stats summarises size and importance. AvgImportance is rounded to four
// decimal places.
func (m *WorkingMemory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum float64
	for _, e := range m.entries {
		sum += e.Importance
	}
	var avg float64
	if n := len(m.entries); n > 0 {
		avg = round(sum/float64(n), 4)
	}
	return Stats{
		Size:          len(m.entries),
		Capacity:      m.capacity,
		FillRatio:     float64(len(m.entries)) / float64(m.capacity),
		AvgImportance: avg,
	}
}

func (m *WorkingMemory) allLocked() []models.MemoryEntry {
	out := make([]models.MemoryEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

func (m *WorkingMemory) evictOneLocked() {
	var (
		victim models.MemoryEntry
		found  bool
	)
	for _, e := range m.entries {
		if !found || evictionOrder(e, victim) < 0 {
			victim, found = e, true
		}
	}
	if !found {
		return
	}
	delete(m.entries, victim.ID)
	m.metrics.recordEviction(context.Background())
	m.logger.Debug("working memory entry evicted",
		zap.String("entry.id", victim.ID),
		zap.Float64("score", victim.EvictionScore()))
}

// evictionOrder sorts the first eviction candidate first: lowest score,
// then older CreatedAt, then smaller id.
func evictionOrder(a, b models.MemoryEntry) int {
	if c := cmp.Compare(a.EvictionScore(), b.EvictionScore()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func sortByValue(entries []models.MemoryEntry) {
	slices.SortFunc(entries, func(a, b models.MemoryEntry) int {
		return evictionOrder(b, a)
	})
}
