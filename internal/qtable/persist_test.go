package qtable

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kazuba/internal/logging"
	"github.com/fyrsmithlabs/kazuba/internal/telemetry"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "q.json")
	src := newTable(t, scenarioConfig)
	src.Update("s1", "a1", 1, "s2", nil)
	src.Set(`we\ird`, "a\x00b", -0.25)
	src.Set("pipe|state", "act", 0.125)

	written, err := src.Save(path)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	dst := newTable(t, nil)
	require.NoError(t, dst.Load(path))

	assert.Equal(t, src.Export(), dst.Export())
	assert.Equal(t, -0.25, dst.Get(`we\ird`, "a\x00b"))
	assert.Equal(t, 0.125, dst.Get("pipe|state", "act"))
	assert.Equal(t, 1, dst.UpdateCount())
	assert.Equal(t, 0, dst.TraceCount())

	alpha, gamma, lambda := dst.Hyperparameters()
	assert.Equal(t, []float64{0.5, 0.95, 0.8}, []float64{alpha, gamma, lambda})
}

func TestSave_FileShape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.json")
	at := time.Unix(1_700_000_000, 0)
	tbl := newTable(t, func(c *Config) { c.PersistPath = path }, WithClock(func() time.Time { return at }))
	tbl.Set("s", "a", 0.5)

	_, err := tbl.Save("")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, map[string]any{"s\x00a": 0.5}, raw["q_table"])
	assert.Equal(t, 0.1, raw["alpha"])
	assert.Equal(t, 0.95, raw["gamma"])
	assert.Equal(t, 0.8, raw["lambda"])
	assert.EqualValues(t, 10000, raw["max_size"])
	assert.EqualValues(t, 0, raw["update_count"])
	assert.EqualValues(t, 1_700_000_000, raw["saved_at"])
}

func TestSave_NoPath(t *testing.T) {
	t.Parallel()

	_, err := newTable(t, nil).Save("")
	require.ErrorIs(t, err, ErrNoPath)
}

func TestLoad_ToleratesMissingKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"q_table": {"s\u0000a": 0.5, "bare": 0.1}}`), 0o600))

	tbl := newTable(t, func(c *Config) { c.LearningRate = 0.3 })
	require.NoError(t, tbl.Load(path))

	assert.Equal(t, 0.5, tbl.Get("s", "a"))
	assert.Equal(t, 0.1, tbl.Get("bare", ""))
	alpha, _, _ := tbl.Hyperparameters()
	assert.Equal(t, 0.3, alpha)
	assert.Equal(t, 0, tbl.UpdateCount())
}

func TestLoad_OverridesHyperparametersAndEnforcesBound(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.json")
	body := `{"q_table": {"s\u0000a": 0.1, "s\u0000b": 0.9, "s\u0000c": 0.5}, "alpha": 0.7, "update_count": 42}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	tbl := newTable(t, func(c *Config) { c.MaxSize = 2 })
	require.NoError(t, tbl.Load(path))

	alpha, _, _ := tbl.Hyperparameters()
	assert.Equal(t, 0.7, alpha)
	assert.Equal(t, 42, tbl.UpdateCount())
	assert.Equal(t, []string{"b", "c"}, tbl.ActionsForState("s"))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tbl := newTable(t, nil)
	require.ErrorIs(t, tbl.Load(filepath.Join(dir, "absent.json")), os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	require.ErrorIs(t, tbl.Load(bad), ErrCorrupt)
}

func TestNew_PersistPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tbl, err := New(Config{MaxSize: 10, PersistPath: filepath.Join(dir, "missing.json")})
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Size())

	good := filepath.Join(dir, "good.json")
	seed := newTable(t, nil)
	seed.Set("s", "a", 0.4)
	_, err = seed.Save(good)
	require.NoError(t, err)

	loaded, err := New(Config{MaxSize: 10, PersistPath: good})
	require.NoError(t, err)
	assert.Equal(t, 0.4, loaded.Get("s", "a"))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("[1,2"), 0o600))
	_, err = New(Config{MaxSize: 10, PersistPath: corrupt})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestAutoSave_EveryInterval(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.json")
	tbl := newTable(t, func(c *Config) {
		c.PersistPath = path
		c.AutoSaveInterval = 2
	})

	tbl.Update("s", "a", 1, "t", nil)
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	tbl.Update("s", "a", 1, "t", nil)
	require.FileExists(t, path)

	fresh := newTable(t, nil)
	require.NoError(t, fresh.Load(path))
	assert.Equal(t, 2, fresh.UpdateCount())
	assert.Equal(t, tbl.Get("s", "a"), fresh.Get("s", "a"))
}

func TestAutoSave_FailureIsLogged(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.json")
	tl := logging.NewTestLogger()
	tbl := newTable(t, func(c *Config) {
		c.PersistPath = path
		c.AutoSaveInterval = 1
	}, WithLogger(tl.Underlying()))

	// A non-empty directory at the target makes the rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o750))

	res := tbl.Update("s", "a", 1, "t", nil)
	assert.Greater(t, res.NewQValue, 0.0)
	tl.AssertLogged(t, zapcore.WarnLevel, "q-table auto-save failed")
}

func TestExportImport_RoundTrip(t *testing.T) {
	t.Parallel()

	src := newTable(t, nil)
	src.Set("s1", "a1", 0.5)
	src.Set("s1", "a2", -0.5)
	src.Set("s2", "a|b", 1.5)

	exported := src.Export()
	assert.Equal(t, map[string]float64{"s1|a1": 0.5, "s1|a2": -0.5, "s2|a|b": 1.5}, exported)

	dst := newTable(t, nil)
	assert.Equal(t, 3, dst.Import(exported))
	assert.Equal(t, 0.5, dst.Get("s1", "a1"))
	assert.Equal(t, -0.5, dst.Get("s1", "a2"))
	assert.Equal(t, 1.5, dst.Get("s2", "a|b"), "split happens on the first separator")
}

func TestImport_MergesSkipsAndBounds(t *testing.T) {
	t.Parallel()

	tbl := newTable(t, func(c *Config) { c.MaxSize = 2 })
	tbl.Set("s", "keep", 5)

	n := tbl.Import(map[string]float64{
		"s|keep":  9,
		"s|small": 0.01,
		"s|mid":   1,
		"no-sep":  3,
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, 9.0, tbl.Get("s", "keep"))
	assert.Equal(t, []string{"keep", "mid"}, tbl.ActionsForState("s"))
}

func TestExport_StateWithSeparatorIsLossy(t *testing.T) {
	t.Parallel()

	src := newTable(t, nil)
	src.Set("a|b", "c", 1)

	dst := newTable(t, nil)
	dst.Import(src.Export())
	assert.Equal(t, 0.0, dst.Get("a|b", "c"))
	assert.Equal(t, 1.0, dst.Get("a", "b|c"))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()

	src := newTable(t, func(c *Config) { c.MaxSize = 7 })
	src.Update("s", "a", 1, "t", nil)
	src.Set("x", "y", -3)

	snap := src.Snapshot()
	dst, err := FromSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, src.Export(), dst.Export())
	assert.Equal(t, 7, dst.Stats().MaxSize)
	assert.Equal(t, 1, dst.UpdateCount())
}

func TestMetrics_Recorded(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	m, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)

	tbl := newTable(t, func(c *Config) { c.MaxSize = 1 }, WithMetrics(m))
	tbl.Update("s", "a", 1, "t", nil)
	tbl.Update("s", "b", 1, "t", ptr("x"))
	tbl.Set("z", "z", 0)

	ctx := context.Background()
	total, ok := tt.Int64Sum(ctx, "rlm.qtable.updates.total")
	require.True(t, ok)
	assert.Equal(t, int64(2), total)

	sarsa, ok := tt.Int64SumWith(ctx, "rlm.qtable.updates.total", attribute.String("rule", "sarsa"))
	require.True(t, ok)
	assert.Equal(t, int64(1), sarsa)

	n, ok := tt.HistogramCount(ctx, "rlm.qtable.td_error")
	require.True(t, ok)
	assert.Equal(t, uint64(2), n)

	evicted, ok := tt.Int64Sum(ctx, "rlm.qtable.evictions.total")
	require.True(t, ok)
	assert.Equal(t, int64(2), evicted)
}
