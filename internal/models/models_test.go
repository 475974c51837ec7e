package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLearningRecord_RejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, r := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := NewLearningRecord("s", "a", r, "s2", nil, time.Now())
		require.ErrorIs(t, err, ErrNonFiniteReward)
	}

	rec, err := NewLearningRecord("s", "a", -3.5, "", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, -3.5, rec.Reward)
	assert.True(t, rec.IsTerminal())
	assert.NotNil(t, rec.Metadata)
}

func TestNewLearningRecord_CopiesMetadata(t *testing.T) {
	t.Parallel()

	md := map[string]any{"hook": "pre_tool_use"}
	rec, err := NewLearningRecord("s", "a", 1, "s2", md, time.Now())
	require.NoError(t, err)

	md["hook"] = "changed"
	assert.Equal(t, "pre_tool_use", rec.Metadata["hook"])
}

func TestMemoryEntry_ImportanceBounds(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryEntry("fact", 1.5, nil)
	require.ErrorIs(t, err, ErrImportanceRange)
	_, err = NewMemoryEntry("fact", -0.1, nil)
	require.ErrorIs(t, err, ErrImportanceRange)

	e, err := NewMemoryEntry("fact", 0.4, []string{"go", "go", "rl"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, []string{"go", "rl"}, e.Tags)

	_, err = e.WithImportance(2)
	require.ErrorIs(t, err, ErrImportanceRange)

	updated, err := e.WithImportance(0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.9, updated.Importance)
	assert.Equal(t, 0.4, e.Importance, "receiver must not change")
	assert.Equal(t, e.AccessedAt, updated.AccessedAt)
	assert.Equal(t, e.AccessCount, updated.AccessCount)
}

func TestMemoryEntry_TouchIsCopyOnWrite(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_700_000_000, 0)
	e, err := NewMemoryEntry("fact", 0.5, []string{"a"}, WithEntryID("m1"), WithCreatedAt(start))
	require.NoError(t, err)

	later := start.Add(time.Minute)
	touched := e.Touch(later)

	assert.Equal(t, "m1", touched.ID)
	assert.Equal(t, 1, touched.AccessCount)
	assert.Equal(t, later, touched.AccessedAt)
	assert.Equal(t, 0, e.AccessCount)
	assert.Equal(t, start, e.AccessedAt)

	touched.Tags[0] = "mutated"
	assert.Equal(t, "a", e.Tags[0])
}

func TestMemoryEntry_EvictionScore(t *testing.T) {
	t.Parallel()

	at := time.Unix(1_000, 0)
	e, err := NewMemoryEntry("x", 0.5, nil, WithCreatedAt(at))
	require.NoError(t, err)

	want := 1000.0 * 0.5 * math.Log1p(1)
	assert.InDelta(t, want, e.EvictionScore(), 1e-9)

	e = e.Touch(at)
	want = 1000.0 * 0.5 * math.Log1p(2)
	assert.InDelta(t, want, e.EvictionScore(), 1e-9)
}

func TestEpisode_WithRecordAndClose(t *testing.T) {
	t.Parallel()

	now := time.Now()
	ep := NewEpisode("ep1", "sess1", now)
	assert.False(t, ep.IsComplete())

	r1, _ := NewLearningRecord("s1", "a1", 0.5, "s2", nil, now)
	r2, _ := NewLearningRecord("s2", "a2", -0.25, "", nil, now)

	ep1, err := ep.WithRecord(r1)
	require.NoError(t, err)
	ep2, err := ep1.WithRecord(r2)
	require.NoError(t, err)

	assert.Equal(t, 0, ep.StepCount())
	assert.Equal(t, 1, ep1.StepCount())
	assert.Equal(t, 2, ep2.StepCount())
	assert.InDelta(t, 0.25, ep2.TotalReward, 1e-12)

	closed, err := ep2.Close(now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, closed.IsComplete())
	assert.Equal(t, time.Second, closed.Duration())

	_, err = closed.WithRecord(r1)
	require.ErrorIs(t, err, ErrEpisodeClosed)
	_, err = closed.Close(now)
	require.ErrorIs(t, err, ErrEpisodeClosed)
}

func TestEpisode_WithRecordDoesNotAlias(t *testing.T) {
	t.Parallel()

	ep := NewEpisode("ep", "s", time.Now())
	r, _ := NewLearningRecord("s", "a", 1, "", nil, time.Now())
	base, err := ep.WithRecord(r)
	require.NoError(t, err)

	left, _ := base.WithRecord(r)
	right, _ := base.WithRecord(r)
	left.Records[1].Action = "left"
	assert.Equal(t, "a", right.Records[1].Action)
}

func TestSessionMeta_WithEpisode(t *testing.T) {
	t.Parallel()

	now := time.Now()
	meta := NewSessionMeta("sess", now)
	ep := NewEpisode("ep", "sess", now)
	r, _ := NewLearningRecord("s", "a", 2, "", nil, now)
	ep, _ = ep.WithRecord(r)
	ep, _ = ep.WithRecord(r)

	folded, err := meta.WithEpisode(ep)
	require.NoError(t, err)
	assert.Equal(t, 1, folded.EpisodeCount)
	assert.Equal(t, 2, folded.TotalSteps)
	assert.Equal(t, 4.0, folded.TotalReward)
	assert.Equal(t, 0, meta.EpisodeCount)

	closed, err := folded.Close(now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, closed.IsActive())
	assert.Equal(t, time.Minute, closed.Duration())

	_, err = closed.WithEpisode(ep)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestModels_JSONShape(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 500_000_000)
	ep := NewEpisode("ep", "sess", now)
	r, _ := NewLearningRecord("s", "a", 1, "", map[string]any{"k": "v"}, now)
	ep, _ = ep.WithRecord(r)

	data, err := json.Marshal(ep)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "ep", raw["id"])
	assert.Equal(t, "sess", raw["session_id"])
	assert.Nil(t, raw["ended_at"])
	assert.InDelta(t, 1_700_000_000.5, raw["started_at"], 1e-3)
	records := raw["records"].([]any)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].(map[string]any)["action"])

	var back Episode
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ep.ID, back.ID)
	assert.WithinDuration(t, ep.StartedAt, back.StartedAt, time.Millisecond)
	require.Len(t, back.Records, 1)
	assert.Equal(t, "v", back.Records[0].Metadata["k"])
}

func TestMemoryEntry_UnmarshalValidates(t *testing.T) {
	t.Parallel()

	var e MemoryEntry
	err := json.Unmarshal([]byte(`{"id":"x","content":"c","importance":3}`), &e)
	require.ErrorIs(t, err, ErrImportanceRange)

	err = json.Unmarshal([]byte(`{"id":"x","content":"c","importance":0.3,"tags":["a"],"accessed_at":12.5,"access_count":2}`), &e)
	require.NoError(t, err)
	assert.Equal(t, "x", e.ID)
	assert.Equal(t, 2, e.AccessCount)
	assert.InDelta(t, 12.5, UnixSeconds(e.AccessedAt), 1e-6)
}
