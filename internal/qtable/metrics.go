package qtable

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the package's OTel instruments.
const InstrumentationName = "github.com/fyrsmithlabs/kazuba/internal/qtable"

// Metrics holds the table's OTel instruments. A nil *Metrics records nothing.
type Metrics struct {
	updates          metric.Int64Counter
	tdError          metric.Float64Histogram
	evictions        metric.Int64Counter
	autosaveFailures metric.Int64Counter
	saves            metric.Int64Counter
}

// NewMetrics registers instruments on meter, or on the global provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.updates, err = meter.Int64Counter(
		"rlm.qtable.updates.total",
		metric.WithDescription("TD(λ) updates applied, by learning rule"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	m.tdError, err = meter.Float64Histogram(
		"rlm.qtable.td_error",
		metric.WithDescription("Absolute TD error per update"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5),
	)
	if err != nil {
		return nil, err
	}

	m.evictions, err = meter.Int64Counter(
		"rlm.qtable.evictions.total",
		metric.WithDescription("Entries evicted by the size bound"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	m.autosaveFailures, err = meter.Int64Counter(
		"rlm.qtable.autosave.failures.total",
		metric.WithDescription("Auto-save attempts that failed"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return nil, err
	}

	m.saves, err = meter.Int64Counter(
		"rlm.qtable.saves.total",
		metric.WithDescription("Successful writes of the table to disk"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordUpdate(ctx context.Context, sarsa bool, td float64) {
	if m == nil {
		return
	}
	rule := "q_learning"
	if sarsa {
		rule = "sarsa"
	}
	m.updates.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
	if td < 0 {
		td = -td
	}
	m.tdError.Record(ctx, td)
}

func (m *Metrics) recordEvictions(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(ctx, int64(n))
}

func (m *Metrics) recordSave(ctx context.Context, auto bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.saves.Add(ctx, 1)
	case auto:
		m.autosaveFailures.Add(ctx, 1)
	}
}
