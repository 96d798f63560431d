package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecorder_ExportsDelegationMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rec, err := NewRecorderWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	rec.ObserveDelegation("pareto", "success", 1500*time.Millisecond)
	rec.ObserveDelegation("pareto", "timeout", time.Minute)
	rec.SetActiveDelegations(4)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	sum, ok := byName["swarm.delegations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2)

	hist, ok := byName["swarm.delegation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)

	gauge, ok := byName["swarm.delegations.active"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(4), gauge.DataPoints[0].Value)
}

func TestNewRecorder_GlobalNoop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	rec, err := NewRecorder()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		rec.ObserveDelegation("reputation", "success", time.Second)
		rec.SetActiveDelegations(1)
	})
}
