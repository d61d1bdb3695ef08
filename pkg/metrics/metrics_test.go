package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRegisterer(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestCollectors(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRequest("timeslot_get", "ok", 20*time.Millisecond)
	m.ObserveRequest("timeslot_get", "ok", 30*time.Millisecond)
	m.AddSlotChanges("k", 2, 0)
	m.ObserveCycle("k", "failure")
	m.MonitorStarted()
	m.MonitorStarted()
	m.MonitorStopped()

	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("timeslot_get", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.slotChanges.WithLabelValues("k", "added")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.slotChanges.WithLabelValues("k", "removed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("k", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.monitorsRunning))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", "ok", time.Second)
	m.AddSlotChanges("k", 1, 1)
	m.ObserveCycle("k", "ok")
	m.MonitorStarted()
	m.MonitorStopped()
}
