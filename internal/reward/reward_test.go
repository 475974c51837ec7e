package reward

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalc(t *testing.T, comps ...Component) *Calculator {
	t.Helper()
	c, err := New(comps, DefaultClipMin, DefaultClipMax)
	require.NoError(t, err)
	return c
}

func TestNewComponent_Scale(t *testing.T) {
	t.Parallel()

	for _, s := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := NewComponent("m", 1, 0, s)
		require.ErrorIs(t, err, ErrInvalidScale, "scale %v", s)
	}
	c, err := NewComponent("m", 1, 0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Component{MetricKey: "m", Weight: 1, Target: 0, Scale: 0.5}, c)
}

func TestNewComponent_Weight(t *testing.T) {
	t.Parallel()

	for _, w := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := NewComponent("m", w, 0, 1)
		require.ErrorIs(t, err, ErrInvalidWeight, "weight %v", w)

		_, err = New([]Component{{MetricKey: "m", Weight: w, Scale: 1}}, -1, 1)
		require.ErrorIs(t, err, ErrInvalidWeight)

		require.ErrorIs(t, mustCalc(t).AddComponent(Component{MetricKey: "m", Weight: w, Scale: 1}), ErrInvalidWeight)
	}
}

func TestCompute_OverflowingWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		weights []float64
		want    float64
	}{
		{"two huge positive", []float64{1e308, 1e308}, 1},
		{"huge opposing", []float64{1e308, -1e308}, 0},
		{"max and tiny", []float64{math.MaxFloat64, 1}, 1},
		{"huge negative", []float64{-math.MaxFloat64, -math.MaxFloat64}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comps := make([]Component, len(tt.weights))
			for i, w := range tt.weights {
				comps[i] = Component{MetricKey: "m", Weight: w, Target: 0, Scale: 1}
			}
			c := mustCalc(t, comps...)
			metrics := map[string]float64{"m": 0}

			got := c.Compute(metrics)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)

			b := c.Breakdown(metrics)
			assert.InDelta(t, tt.want, b.Total, 1e-9)
			_, err := json.Marshal(b)
			require.NoError(t, err)
		})
	}
}

func TestClip_NaNMapsToMax(t *testing.T) {
	t.Parallel()

	c, err := New(nil, -0.5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.clip(math.NaN()))
	assert.Equal(t, -0.5, c.clip(math.Inf(-1)))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		comps    []Component
		min, max float64
		want     error
	}{
		{"equal clip", nil, 1, 1, ErrInvalidClip},
		{"inverted clip", nil, 1, -1, ErrInvalidClip},
		{"nan clip", nil, math.NaN(), 1, ErrInvalidClip},
		{"bad component", []Component{{MetricKey: "m", Weight: 1, Scale: 0}}, -1, 1, ErrInvalidScale},
		{"bad weight", []Component{{MetricKey: "m", Weight: math.NaN(), Scale: 1}}, -1, 1, ErrInvalidWeight},
		{"ok", []Component{{MetricKey: "m", Weight: 1, Scale: 1}}, -2, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.comps, tt.min, tt.max)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompute_NoComponents(t *testing.T) {
	t.Parallel()

	c := mustCalc(t)
	assert.Equal(t, 0.0, c.Compute(nil))
	assert.Equal(t, 0.0, c.Compute(map[string]float64{"anything": 42}))
}

func TestCompute_AtTargetYieldsWeight(t *testing.T) {
	t.Parallel()

	comp := Component{MetricKey: "accuracy", Weight: 0.7, Target: 1, Scale: 0.1}
	assert.Equal(t, 0.7, comp.Contribution(map[string]float64{"accuracy": 1}))

	// Normalised by |weight| the single component peaks at 1.
	c := mustCalc(t, comp)
	assert.Equal(t, 1.0, c.Compute(map[string]float64{"accuracy": 1}))
}

func TestCompute_GaussianFalloff(t *testing.T) {
	t.Parallel()

	comp := Component{MetricKey: "latency", Weight: 2, Target: 50, Scale: 10}
	got := comp.Contribution(map[string]float64{"latency": 60})
	assert.InDelta(t, 2*math.Exp(-0.5), got, 1e-12)
}

func TestCompute_AbsentAndNonFiniteContributeZero(t *testing.T) {
	t.Parallel()

	comp := Component{MetricKey: "m", Weight: 1, Target: 0, Scale: 1}
	assert.Equal(t, 0.0, comp.Contribution(map[string]float64{}))
	assert.Equal(t, 0.0, comp.Contribution(map[string]float64{"m": math.NaN()}))
	assert.Equal(t, 0.0, comp.Contribution(map[string]float64{"m": math.Inf(-1)}))
}

func TestCompute_NormalisesAndClips(t *testing.T) {
	t.Parallel()

	c, err := New([]Component{
		{MetricKey: "accuracy", Weight: 1, Target: 1, Scale: 0.1},
		{MetricKey: "errors", Weight: -3, Target: 0, Scale: 1},
	}, -0.5, 0.5)
	require.NoError(t, err)

	// (1 - 3) / 4 = -0.5, exactly at the lower bound.
	assert.Equal(t, -0.5, c.Compute(map[string]float64{"accuracy": 1, "errors": 0}))
	// 1 / 4 = 0.25 when errors is absent.
	assert.Equal(t, 0.25, c.Compute(map[string]float64{"accuracy": 1}))
}

func TestSimple(t *testing.T) {
	t.Parallel()

	c := Simple("score", 1)
	assert.InDelta(t, 1.0, c.Compute(map[string]float64{"score": 5}), 1e-9)
	comps := c.Components()
	require.Len(t, comps, 1)
	assert.Equal(t, SimpleScale, comps[0].Scale)
	assert.Equal(t, 1.0, comps[0].Target)
	lo, hi := c.ClipRange()
	assert.Equal(t, []float64{-1, 1}, []float64{lo, hi})
}

func TestBreakdown(t *testing.T) {
	t.Parallel()

	c, err := New([]Component{
		{MetricKey: "a", Weight: 2, Target: 0, Scale: 1},
		{MetricKey: "b", Weight: -1, Target: 0, Scale: 1},
	}, -1, 1)
	require.NoError(t, err)

	bd := c.Breakdown(map[string]float64{"a": 1})
	require.Len(t, bd.Components, 2)

	wantA := round6(2 * math.Exp(-0.5))
	assert.Equal(t, "a", bd.Components[0].Metric)
	require.NotNil(t, bd.Components[0].Observed)
	assert.Equal(t, 1.0, *bd.Components[0].Observed)
	assert.Equal(t, wantA, bd.Components[0].Contribution)

	assert.Nil(t, bd.Components[1].Observed)
	assert.Equal(t, 0.0, bd.Components[1].Contribution)

	assert.Equal(t, wantA, bd.RawTotal)
	assert.InDelta(t, 2*math.Exp(-0.5)/3, bd.Normalized, 1e-6)
	assert.Equal(t, bd.Normalized, bd.Total)
	assert.InDelta(t, c.Compute(map[string]float64{"a": 1}), bd.Total, 1e-6)

	data, err := json.Marshal(bd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"observed":null`)
}

func TestBreakdown_Empty(t *testing.T) {
	t.Parallel()

	bd := mustCalc(t).Breakdown(map[string]float64{"x": 1})
	assert.Equal(t, Breakdown{Components: []ComponentResult{}}, bd)
}

func TestAddRemoveComponent(t *testing.T) {
	t.Parallel()

	c := mustCalc(t)
	require.ErrorIs(t, c.AddComponent(Component{MetricKey: "bad"}), ErrInvalidScale)

	require.NoError(t, c.AddComponent(Component{MetricKey: "m", Weight: 1, Scale: 1}))
	require.NoError(t, c.AddComponent(Component{MetricKey: "m", Weight: 2, Scale: 1}))
	require.NoError(t, c.AddComponent(Component{MetricKey: "n", Weight: 1, Scale: 1}))
	assert.Len(t, c.Components(), 3)

	assert.True(t, c.RemoveComponent("m"))
	assert.False(t, c.RemoveComponent("m"))
	assert.Equal(t, []Component{{MetricKey: "n", Weight: 1, Scale: 1}}, c.Components())

	comps := c.Components()
	comps[0].Weight = 99
	assert.Equal(t, 1.0, c.Components()[0].Weight, "Components returns a copy")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()

	src, err := New([]Component{{MetricKey: "m", Weight: -0.5, Target: 3, Scale: 2}}, -2, 5)
	require.NoError(t, err)

	data, err := json.Marshal(src.Snapshot())
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	dst, err := FromSnapshot(snap)
	require.NoError(t, err)

	assert.Equal(t, src.Components(), dst.Components())
	lo, hi := dst.ClipRange()
	assert.Equal(t, []float64{-2, 5}, []float64{lo, hi})

	def, err := FromSnapshot(Snapshot{})
	require.NoError(t, err)
	lo, hi = def.ClipRange()
	assert.Equal(t, []float64{DefaultClipMin, DefaultClipMax}, []float64{lo, hi})

	_, err = FromSnapshot(Snapshot{ClipMin: 1, ClipMax: 0})
	require.ErrorIs(t, err, ErrInvalidClip)
}

func TestCalculator_ConcurrentReconfigure(t *testing.T) {
	c := mustCalc(t)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = c.AddComponent(Component{MetricKey: "m", Weight: 1, Scale: 1})
				c.RemoveComponent("m")
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				v := c.Compute(map[string]float64{"m": 0})
				if v < -1 || v > 1 {
					t.Errorf("out of range: %v", v)
				}
			}
		}()
	}
	wg.Wait()
}

func TestCompute_ClipProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("result stays within the clip range", prop.ForAll(
		func(weight, target, scale, value, lo, width float64) bool {
			c, err := New([]Component{{MetricKey: "m", Weight: weight, Target: target, Scale: scale}}, lo, lo+width)
			if err != nil {
				return false
			}
			got := c.Compute(map[string]float64{"m": value})
			return got >= lo && got <= lo+width
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-100, 100),
		gen.Float64Range(1e-3, 1e3),
		gen.Float64Range(-1e3, 1e3),
		gen.Float64Range(-10, 10),
		gen.Float64Range(0.01, 10),
	))

	properties.Property("extreme weights never escape the range", prop.ForAll(
		func(weights []float64) bool {
			comps := make([]Component, len(weights))
			for i, w := range weights {
				comps[i] = Component{MetricKey: "m", Weight: w, Target: 0, Scale: 1}
			}
			c, err := New(comps, -0.25, 0.75)
			if err != nil {
				return false
			}
			got := c.Compute(map[string]float64{"m": 0})
			return got >= -0.25 && got <= 0.75
		},
		gen.SliceOf(gen.Float64Range(-1, 1).Map(func(v float64) float64 { return v * math.MaxFloat64 })),
	))

	properties.TestingRun(t)
}
