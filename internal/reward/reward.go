// Package reward reduces named performance metrics to a scalar reward.
//
// Each Component contributes weight × exp(−(observed − target)² / 2·scale²),
// a Gaussian bump centred on its target. The sum is normalised by the total
// absolute weight and clipped to the calculator's range.
package reward

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

// Default clip range.
const (
	DefaultClipMin = -1.0
	DefaultClipMax = 1.0
)

// SimpleScale makes a component's Gaussian flat enough to read as linear
// over practical metric ranges.
const SimpleScale = 1e6

var (
	// ErrInvalidScale is returned for a non-positive or non-finite scale.
	ErrInvalidScale = errors.New("scale must be a finite number > 0")

	// ErrInvalidClip is returned unless clipMin < clipMax.
	ErrInvalidClip = errors.New("clip_min must be < clip_max")

	// ErrInvalidWeight is returned for a NaN or infinite weight.
	ErrInvalidWeight = errors.New("weight must be finite")
)

// Component is one weighted metric. A negative weight penalises
// observations near the target.
type Component struct {
	MetricKey string  `json:"metric_key"`
	Weight    float64 `json:"weight"`
	Target    float64 `json:"target"`
	Scale     float64 `json:"scale"`
}

// NewComponent returns a validated component.
func NewComponent(metricKey string, weight, target, scale float64) (Component, error) {
	c := Component{MetricKey: metricKey, Weight: weight, Target: target, Scale: scale}
	if err := c.Validate(); err != nil {
		return Component{}, err
	}
	return c, nil
}

// Validate checks the weight and the scale.
func (c Component) Validate() error {
	if math.IsNaN(c.Weight) || math.IsInf(c.Weight, 0) {
		return fmt.Errorf("%w: %s has weight %v", ErrInvalidWeight, c.MetricKey, c.Weight)
	}
	if !(c.Scale > 0) || math.IsInf(c.Scale, 0) {
		return fmt.Errorf("%w: %s has scale %v", ErrInvalidScale, c.MetricKey, c.Scale)
	}
	return nil
}

// Contribution is the component's weighted Gaussian for metrics. Absent
// and non-finite observations contribute 0.
func (c Component) Contribution(metrics map[string]float64) float64 {
	v, ok := observed(metrics, c.MetricKey)
	if !ok {
		return 0
	}
	d := v - c.Target
	return c.Weight * math.Exp(-(d*d)/(2*c.Scale*c.Scale))
}

func observed(metrics map[string]float64, key string) (float64, bool) {
	v, ok := metrics[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Calculator combines components. It is safe for concurrent use.
type Calculator struct {
	mu         sync.RWMutex
	components []Component
	clipMin    float64
	clipMax    float64
}

// New validates every component and the clip range.
func New(components []Component, clipMin, clipMax float64) (*Calculator, error) {
	if !(clipMin < clipMax) {
		return nil, fmt.Errorf("%w, got [%v, %v]", ErrInvalidClip, clipMin, clipMax)
	}
	for _, c := range components {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return &Calculator{
		components: slices.Clone(components),
		clipMin:    clipMin,
		clipMax:    clipMax,
	}, nil
}

// Simple returns a single-component calculator with target 1 and a very
// wide scale, so the reward is roughly proportional to weight.
func Simple(metricKey string, weight float64) *Calculator {
	return &Calculator{
		components: []Component{{MetricKey: metricKey, Weight: weight, Target: 1, Scale: SimpleScale}},
		clipMin:    DefaultClipMin,
		clipMax:    DefaultClipMax,
	}
}

// Compute returns the normalised, clipped reward. With no components it
// is always 0.
func (c *Calculator) Compute(metrics map[string]float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.components) == 0 {
		return 0
	}
	return c.clip(normalize(c.components, metrics))
}

// normalize divides the summed contributions by the summed absolute
// weights. Both sums are taken relative to the largest weight so that
// weights near math.MaxFloat64 do not overflow.
func normalize(components []Component, metrics map[string]float64) float64 {
	var scale float64
	for _, comp := range components {
		scale = max(scale, math.Abs(comp.Weight))
	}
	if scale == 0 {
		return 0
	}
	var total, weight float64
	for _, comp := range components {
		total += comp.Contribution(metrics) / scale
		weight += math.Abs(comp.Weight) / scale
	}
	return total / weight
}

// ComponentResult is one row of a Breakdown.
type ComponentResult struct {
	Metric       string   `json:"metric"`
	Observed     *float64 `json:"observed"`
	Weight       float64  `json:"weight"`
	Contribution float64  `json:"contribution"`
}

// Breakdown explains a Compute result. Values are rounded to six decimal
// places; Observed is nil when the metric was absent or non-finite.
type Breakdown struct {
	Total      float64           `json:"total"`
	RawTotal   float64           `json:"raw_total"`
	Normalized float64           `json:"normalized"`
	Components []ComponentResult `json:"components"`
}

// Breakdown computes the reward with per-component detail.
func (c *Calculator) Breakdown(metrics map[string]float64) Breakdown {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := make([]ComponentResult, 0, len(c.components))
	var raw float64
	for _, comp := range c.components {
		contribution := comp.Contribution(metrics)
		raw += contribution

		row := ComponentResult{
			Metric:       comp.MetricKey,
			Weight:       comp.Weight,
			Contribution: round6(contribution),
		}
		if v, ok := observed(metrics, comp.MetricKey); ok {
			row.Observed = &v
		}
		rows = append(rows, row)
	}

	normalized := normalize(c.components, metrics)
	return Breakdown{
		Total:      round6(c.clip(normalized)),
		RawTotal:   round6(saturate(raw)),
		Normalized: round6(normalized),
		Components: rows,
	}
}

// AddComponent appends a validated component.
func (c *Calculator) AddComponent(comp Component) error {
	if err := comp.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, comp)
	return nil
}

// RemoveComponent drops every component for metricKey and reports whether
// any was removed.
func (c *Calculator) RemoveComponent(metricKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.components)
	c.components = slices.DeleteFunc(c.components, func(comp Component) bool {
		return comp.MetricKey == metricKey
	})
	return len(c.components) < before
}

// Components returns a copy of the configured components.
func (c *Calculator) Components() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.components)
}

// ClipRange returns the clip bounds.
func (c *Calculator) ClipRange() (clipMin, clipMax float64) {
	return c.clipMin, c.clipMax
}

// clip maps NaN to clipMax, as comparisons against NaN never select it.
func (c *Calculator) clip(v float64) float64 {
	if math.IsNaN(v) {
		return c.clipMax
	}
	return max(c.clipMin, min(c.clipMax, v))
}

// saturate caps an overflowed sum at the largest finite magnitude.
func saturate(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

func round6(v float64) float64 {
	// Beyond 1e15 a float64 has no fractional digits left to round.
	if math.Abs(v) >= 1e15 {
		return v
	}
	return math.Round(v*1e6) / 1e6
}
