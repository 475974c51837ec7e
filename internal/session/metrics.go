package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/kazuba/internal/models"
)

// InstrumentationName scopes the package's OTel instruments.
const InstrumentationName = "github.com/fyrsmithlabs/kazuba/internal/session"

// Metrics holds the manager's instruments. A nil *Metrics records nothing.
type Metrics struct {
	episodes           metric.Int64Counter
	steps              metric.Int64Counter
	checkpointFailures metric.Int64Counter
}

// NewMetrics registers instruments on meter, or on the global provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.episodes, err = meter.Int64Counter(
		"rlm.session.episodes.total",
		metric.WithDescription("Episodes closed"),
		metric.WithUnit("{episode}"),
	)
	if err != nil {
		return nil, err
	}

	m.steps, err = meter.Int64Counter(
		"rlm.session.steps.total",
		metric.WithDescription("Steps in closed episodes"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, err
	}

	m.checkpointFailures, err = meter.Int64Counter(
		"rlm.session.checkpoint.failures.total",
		metric.WithDescription("Session checkpoints that could not be written"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordEpisode(ctx context.Context, ep models.Episode) {
	if m == nil {
		return
	}
	m.episodes.Add(ctx, 1)
	m.steps.Add(ctx, int64(ep.StepCount()))
}

func (m *Metrics) recordCheckpointFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.checkpointFailures.Add(ctx, 1)
}
