package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return New(prometheus.NewRegistry())
}

func TestRecordEmitTracksCounterAndSnapshot(t *testing.T) {
	m := newTestMetrics()
	m.RecordEmit("window:focus")
	m.RecordEmit("window:focus")
	m.RecordEmit("output:connect")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmitsTotal.WithLabelValues("window:focus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmitsTotal.WithLabelValues("output:connect")))
	assert.EqualValues(t, 3, m.GetSnapshot().EmitsTotal)
}

func TestGaugesMirrorIntoSnapshot(t *testing.T) {
	m := newTestMetrics()
	m.SetHandlersActive(4)
	m.SetTimersActive(2)
	m.SetProcessesActive(1)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 4, snap.ActiveHandlers)
	assert.EqualValues(t, 2, snap.ActiveTimers)
	assert.EqualValues(t, 1, snap.ActiveProcesses)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HandlersActive))
}

func TestErrorAndTimeoutCounters(t *testing.T) {
	m := newTestMetrics()
	m.RecordTimeout(KindEvent)
	m.RecordScriptError(KindTimer)
	m.RecordScriptError(KindEvent)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 1, snap.Timeouts)
	assert.EqualValues(t, 2, snap.ScriptErrors)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScriptErrors.WithLabelValues(KindTimer)))
}

func TestDropAndSpawnCounters(t *testing.T) {
	m := newTestMetrics()
	m.IncSpawns()
	m.IncSpawns()
	m.IncSpawnsFailed()
	m.IncDeferredDropped()

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.SpawnsTotal)
	assert.EqualValues(t, 1, snap.DroppedDeferred)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpawnsFailed))
}

func TestSnapshotUptimeAdvances(t *testing.T) {
	m := newTestMetrics()
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, m.GetSnapshot().UptimeSeconds, 0.0)
}

func TestIndependentRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.IncSpawns()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SpawnsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SpawnsTotal))
}
