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

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{ServiceName: "workbench", Version: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var i *Instruments
	assert.NotPanics(t, func() {
		i.RecordPoll(context.Background(), "running")
		i.RecordWait(context.Background(), time.Second, "terminal")
		i.RecordInvoke(context.Background(), "admin.list.schools", "ok")
	})
}

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := NewInstruments(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordPoll(ctx, "running")
	inst.RecordPoll(ctx, "succeeded")
	inst.RecordWait(ctx, 1200*time.Millisecond, "terminal")
	inst.RecordInvoke(ctx, "admin.list.schools", "ok")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
		if m.Name == "workbench.poll.count" {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			assert.Equal(t, int64(2), total)
		}
	}
	assert.True(t, names["workbench.poll.count"])
	assert.True(t, names["workbench.poll.wait"])
	assert.True(t, names["workbench.invoke.count"])
}
