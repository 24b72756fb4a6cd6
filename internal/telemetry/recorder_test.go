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

func TestRunRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rec, err := NewRunRecorder((&Providers{mp: mp}).Meter())
	require.NoError(t, err)

	rec.RunFinished("story-mapping-workflow", "completed", 2*time.Second)
	rec.StepFinished("story-mapping-workflow", "frame-problem", "completed", 500*time.Millisecond)
	rec.StepFinished("story-mapping-workflow", "output-needs", "suspended", 100*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, TracerName, rm.ScopeMetrics[0].Scope.Name)

	counts := map[string]uint64{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		hist, ok := m.Data.(metricdata.Histogram[float64])
		require.True(t, ok, m.Name)
		for _, dp := range hist.DataPoints {
			counts[m.Name] += dp.Count
		}
	}
	assert.Equal(t, uint64(1), counts["storyflow.run.duration"])
	assert.Equal(t, uint64(2), counts["storyflow.step.duration"])
}

func TestProviders_MeterDisabled(t *testing.T) {
	var p *Providers
	rec, err := NewRunRecorder(p.Meter())
	require.NoError(t, err)
	rec.RunFinished("wf", "completed", time.Second)
}
