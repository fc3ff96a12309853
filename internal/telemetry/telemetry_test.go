package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "quizchain", "test", true)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Meter("test"))
	require.NotNil(t, Tracer("test"))
}

func TestMetricsSnapshot(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	m := NewMetrics(start)
	ctx := context.Background()

	m.RecordRequest(ctx, 10*time.Millisecond, true)
	m.RecordRequest(ctx, 30*time.Millisecond, false)
	m.RunStarted()
	m.RunStarted()
	m.RunFinished(ctx, "ended")

	snap := m.Snapshot(start.Add(90 * time.Second))
	require.Equal(t, int64(2), snap.RequestsTotal)
	require.Equal(t, int64(1), snap.RequestsSucceeded)
	require.Equal(t, int64(1), snap.RequestsFailed)
	require.InDelta(t, 20.0, snap.AvgLatencyMs, 0.001)
	require.Equal(t, int64(1), snap.ActiveRuns)
	require.InDelta(t, 90.0, snap.UptimeSeconds, 0.001)
}

func TestMetricsSnapshotEmpty(t *testing.T) {
	m := NewMetrics(time.Now())
	snap := m.Snapshot(time.Now())
	require.Zero(t, snap.AvgLatencyMs)
	require.Zero(t, snap.RequestsTotal)
}

func TestReadMemory(t *testing.T) {
	mem := ReadMemory()
	require.NotZero(t, mem.SysBytes)
	require.Positive(t, mem.Goroutines)
}
