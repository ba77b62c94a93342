package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordCommand(ctx, "expense", "text")
	m.RecordCommand(ctx, "expense", "text")
	m.RecordCommand(ctx, "income", "function")

	got := findMetric(t, reader, "voice_ledger.commands")
	require.NotNil(t, got)
	sum, ok := got.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		kind, _ := dp.Attributes.Value(attribute.Key("kind"))
		counts[kind.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), counts["expense"])
	assert.Equal(t, int64(1), counts["income"])
}

func TestMetrics_RecordFunctionCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordFunctionCall(context.Background(), "log_expense", "ok", 0.2)

	calls := findMetric(t, reader, "voice_ledger.function.calls")
	require.NotNil(t, calls)
	hist := findMetric(t, reader, "voice_ledger.function.duration")
	require.NotNil(t, hist)
	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, uint64(1), h.DataPoints[0].Count)
}

func TestMetrics_QueuedChunks(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.QueuedChunks.Add(ctx, 3)
	m.QueuedChunks.Add(ctx, -1)

	got := findMetric(t, reader, "voice_ledger.playback.queued")
	require.NotNil(t, got)
	sum := got.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestDefaultMetrics(t *testing.T) {
	assert.Same(t, DefaultMetrics(), DefaultMetrics())
}
