package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BaSui01/agentswarm/internal/telemetry"

// Recorder exports delegation metrics through the global OTel MeterProvider.
// It satisfies distributor.Recorder.
type Recorder struct {
	delegations metric.Int64Counter
	duration    metric.Float64Histogram
	active      metric.Int64Gauge
}

// NewRecorder creates the delegation instruments on the global meter.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithMeter(otel.GetMeterProvider().Meter(meterName))
}

// NewRecorderWithMeter creates the delegation instruments on m.
func NewRecorderWithMeter(m metric.Meter) (*Recorder, error) {
	delegations, err := m.Int64Counter("swarm.delegations",
		metric.WithDescription("Distribute calls by strategy and outcome"),
		metric.WithUnit("{delegation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create delegations counter: %w", err)
	}
	duration, err := m.Float64Histogram("swarm.delegation.duration",
		metric.WithDescription("Distribute call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	active, err := m.Int64Gauge("swarm.delegations.active",
		metric.WithDescription("Accepted, unsettled delegations"),
		metric.WithUnit("{delegation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active gauge: %w", err)
	}
	return &Recorder{delegations: delegations, duration: duration, active: active}, nil
}

// ObserveDelegation records one finished Distribute call.
func (r *Recorder) ObserveDelegation(strategy, outcome string, d time.Duration) {
	ctx := context.Background()
	r.delegations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
	r.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("strategy", strategy)))
}

// SetActiveDelegations records the current in-flight count.
func (r *Recorder) SetActiveDelegations(n int) {
	r.active.Record(context.Background(), int64(n))
}
