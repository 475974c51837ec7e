package memory

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/kazuba/internal/models"
	"github.com/fyrsmithlabs/kazuba/internal/telemetry"
)

var epoch = time.Unix(1_700_000_000, 0)

func entry(t *testing.T, id string, importance float64, at time.Time, tags ...string) models.MemoryEntry {
	t.Helper()
	e, err := models.NewMemoryEntry("content of "+id, importance, tags,
		models.WithEntryID(id), models.WithCreatedAt(at))
	require.NoError(t, err)
	return e
}

func ids(entries []models.MemoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestAdd_ClampsImportance(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	m, err := New(4, WithLogger(zap.New(core)))
	require.NoError(t, err)

	tests := []struct {
		id         string
		importance float64
		want       float64
	}{
		{"high", 5, 1},
		{"low", -2, 0},
		{"nan", math.NaN(), 0},
		{"ok", 0.3, 0.3},
	}
	for _, tt := range tests {
		m.Add(models.MemoryEntry{ID: tt.id, Content: tt.id, CreatedAt: epoch, AccessedAt: epoch, Importance: tt.importance})
		got, ok := m.Get(tt.id)
		require.True(t, ok)
		assert.Equal(t, tt.want, got.Importance, tt.id)
	}
	assert.Equal(t, 3, logs.FilterMessage("memory entry importance clamped").Len())
}

func TestNew_RejectsCapacity(t *testing.T) {
	t.Parallel()

	for _, c := range []int{0, -1} {
		_, err := New(c)
		require.ErrorIs(t, err, ErrInvalidCapacity)
	}
	m, err := New(1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Capacity())
}

func TestAdd_EvictsUnderPressure(t *testing.T) {
	t.Parallel()

	m, err := New(3)
	require.NoError(t, err)

	for i := range 4 {
		m.Add(entry(t, fmt.Sprintf("low-%d", i), 0.1, epoch.Add(time.Duration(i)*time.Second)))
	}
	m.Add(entry(t, "important", 0.9, epoch.Add(time.Hour)))

	assert.Equal(t, 3, m.Size())
	assert.True(t, m.IsFull())
	assert.True(t, m.Contains("important"))
	assert.False(t, m.Contains("low-0"))
	assert.False(t, m.Contains("low-1"))
}

func TestAdd_ReplacesExistingWithoutEviction(t *testing.T) {
	t.Parallel()

	m, _ := New(2)
	m.Add(entry(t, "a", 0.5, epoch))
	m.Add(entry(t, "b", 0.5, epoch))

	replacement := entry(t, "a", 0.7, epoch)
	assert.Equal(t, "a", m.Add(replacement))
	assert.Equal(t, 2, m.Size())
	assert.True(t, m.Contains("b"))

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 0.7, got.Importance)
}

func TestEviction_TieBreaks(t *testing.T) {
	t.Parallel()

	m, _ := New(3)
	// Zero importance gives every entry a zero score.
	m.Add(entry(t, "c", 0, epoch))
	m.Add(entry(t, "a", 0, epoch.Add(time.Minute)))
	m.Add(entry(t, "b", 0, epoch))

	m.Add(entry(t, "d", 0.5, epoch.Add(time.Hour)))
	assert.False(t, m.Contains("b"), "older CreatedAt then smaller id goes first")

	m.Add(entry(t, "e", 0.5, epoch.Add(2*time.Hour)))
	assert.False(t, m.Contains("c"))
	assert.ElementsMatch(t, []string{"a", "d", "e"}, ids(m.All()))
}

func TestEviction_RecencyDominatesImportance(t *testing.T) {
	t.Parallel()

	m, _ := New(2)
	m.Add(entry(t, "old-important", 1.0, epoch))
	m.Add(entry(t, "recent-trivial", 0.6, epoch.Add(100*24*time.Hour)))
	m.Add(entry(t, "newcomer", 0.6, epoch.Add(101*24*time.Hour)))

	assert.True(t, m.Contains("old-important"), "importance wins while timestamps are close")
	assert.False(t, m.Contains("recent-trivial"))

	m2, _ := New(2)
	m2.Add(entry(t, "old-important", 1.0, time.Unix(1_000, 0)))
	m2.Add(entry(t, "recent-trivial", 0.6, epoch))
	m2.Add(entry(t, "newcomer", 0.6, epoch))
	assert.False(t, m2.Contains("old-important"), "the raw timestamp term dominates")
}

func TestGet_TouchesAndStores(t *testing.T) {
	t.Parallel()

	later := epoch.Add(time.Minute)
	m, _ := New(5, WithClock(fixedClock(later)))
	m.Add(entry(t, "a", 0.5, epoch))

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, later, got.AccessedAt)
	assert.Equal(t, epoch, got.CreatedAt)

	again, _ := m.Get("a")
	assert.Equal(t, 2, again.AccessCount)

	_, ok = m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Size())
}

func TestRemoveClearContains(t *testing.T) {
	t.Parallel()

	m, _ := New(5)
	m.Add(entry(t, "a", 0.5, epoch))
	m.Add(entry(t, "b", 0.5, epoch))

	assert.True(t, m.Remove("a"))
	assert.False(t, m.Remove("a"))
	assert.False(t, m.Contains("a"))
	assert.True(t, m.Contains("b"))

	m.Clear()
	assert.Equal(t, 0, m.Size())
	assert.False(t, m.IsFull())
}

func TestSearchByTag_TouchesMatchesOnly(t *testing.T) {
	t.Parallel()

	later := epoch.Add(time.Second)
	m, _ := New(5, WithClock(fixedClock(later)))
	m.Add(entry(t, "x", 0.2, epoch, "go"))
	m.Add(entry(t, "y", 0.8, epoch, "go", "rl"))
	m.Add(entry(t, "z", 0.9, epoch, "rl"))

	found := m.SearchByTag("go")
	assert.Equal(t, []string{"y", "x"}, ids(found))
	for _, e := range found {
		assert.Equal(t, 1, e.AccessCount)
		assert.Equal(t, later, e.AccessedAt)
	}

	for _, e := range m.All() {
		if e.ID == "z" {
			assert.Equal(t, 0, e.AccessCount)
		} else {
			assert.Equal(t, 1, e.AccessCount)
		}
	}
	assert.Empty(t, m.SearchByTag("none"))
}

func TestTopK_DoesNotTouch(t *testing.T) {
	t.Parallel()

	m, _ := New(5)
	m.Add(entry(t, "a", 0.1, epoch))
	m.Add(entry(t, "b", 0.9, epoch))
	m.Add(entry(t, "c", 0.5, epoch))

	assert.Equal(t, []string{"b", "c"}, ids(m.TopK(2)))
	assert.Equal(t, []string{"b", "c", "a"}, ids(m.TopK(10)))
	assert.Empty(t, m.TopK(0))
	for _, e := range m.All() {
		assert.Equal(t, 0, e.AccessCount)
	}
}

func TestUpdateImportance(t *testing.T) {
	t.Parallel()

	m, _ := New(5)
	m.Add(entry(t, "a", 0.5, epoch))

	ok, err := m.UpdateImportance("a", 1.5)
	require.ErrorIs(t, err, models.ErrImportanceRange)
	assert.False(t, ok)

	ok, err = m.UpdateImportance("missing", 2)
	require.ErrorIs(t, err, models.ErrImportanceRange)
	assert.False(t, ok)

	ok, err = m.UpdateImportance("missing", 0.3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.UpdateImportance("a", 0.9)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := m.Get("a")
	assert.Equal(t, 0.9, got.Importance)
	assert.Equal(t, 1, got.AccessCount, "only the Get touched it")
}

func TestStats(t *testing.T) {
	t.Parallel()

	m, _ := New(4)
	assert.Equal(t, Stats{Capacity: 4}, m.Stats())

	m.Add(entry(t, "a", 0.1, epoch))
	m.Add(entry(t, "b", 0.2, epoch))
	m.Add(entry(t, "c", 0.2, epoch))

	assert.Equal(t, Stats{Size: 3, Capacity: 4, FillRatio: 0.75, AvgImportance: 0.1667}, m.Stats())
}

func TestSnapshot_FileRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wm.json")
	src, _ := New(3)
	src.Add(entry(t, "a", 0.1, epoch, "x"))
	src.Add(entry(t, "b", 0.9, epoch.Add(time.Second), "y", "z"))
	require.NoError(t, src.SaveFile(path))

	dst, _ := New(3)
	dst.Add(entry(t, "stale", 0.5, epoch))
	require.NoError(t, dst.LoadFile(path))

	assert.False(t, dst.Contains("stale"))
	got := dst.TopK(10)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, []string{"y", "z"}, got[0].Tags)
	assert.True(t, got[0].CreatedAt.Equal(epoch.Add(time.Second)))

	require.Error(t, dst.LoadFile(filepath.Join(t.TempDir(), "absent.json")))
}

func TestFromSnapshot(t *testing.T) {
	t.Parallel()

	snap := Snapshot{Entries: []models.MemoryEntry{
		entry(t, "a", 0.1, epoch),
		entry(t, "b", 0.2, epoch),
		entry(t, "c", 0.3, epoch),
	}}
	m, err := FromSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, m.Capacity())
	assert.Equal(t, 3, m.Size())

	snap.Capacity = 2
	m, err = FromSnapshot(snap)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, ids(m.All()))

	_, err = FromSnapshot(Snapshot{Capacity: -1})
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestMetrics_Evictions(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	mt, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)

	m, _ := New(1, WithMetrics(mt))
	m.Add(entry(t, "a", 0.5, epoch))
	m.Add(entry(t, "b", 0.5, epoch))
	m.Add(entry(t, "c", 0.5, epoch))

	n, ok := tt.Int64Sum(context.Background(), "rlm.memory.evictions.total")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _ := New(50)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				id := fmt.Sprintf("w%d-%d", w, i%20)
				e, err := models.NewMemoryEntry("c", 0.5, []string{"t"}, models.WithEntryID(id))
				if err != nil {
					return
				}
				m.Add(e)
				m.Get(id)
				m.SearchByTag("t")
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Size(), 50)
}
