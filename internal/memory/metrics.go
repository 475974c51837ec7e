package memory

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the package's OTel instruments.
const InstrumentationName = "github.com/fyrsmithlabs/kazuba/internal/memory"

// Metrics holds the store's instruments. A nil *Metrics records nothing.
type Metrics struct {
	evictions metric.Int64Counter
}

// NewMetrics registers instruments on meter, or on the global provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	evictions, err := meter.Int64Counter(
		"rlm.memory.evictions.total",
		metric.WithDescription("Entries evicted to make room for new ones"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{evictions: evictions}, nil
}

func (m *Metrics) recordEviction(ctx context.Context) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, 1)
}
