package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families, "nothing is registered before first use")

	p.RecordQueueSize(4)

	require.Equal(t, 4.0, testutil.ToFloat64(p.queueSize))
}

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "")

	p.RecordLockAcquire("resource", "acquired")
	p.RecordLockAcquire("resource", "acquired")
	p.RecordLockAcquire("conversation", "busy")
	p.RecordRepair("duplicate_binding", 2)
	p.RecordRepair("duplicate_binding", 0)
	p.RecordInactivityTimeout(true)
	p.RecordInactivityTimeout(false)
	p.RecordNotificationRound(1, 3)

	require.Equal(t, 2.0, testutil.ToFloat64(p.lockAcquires.WithLabelValues("resource", "acquired")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.lockAcquires.WithLabelValues("conversation", "busy")))
	require.Equal(t, 2.0, testutil.ToFloat64(p.repairs.WithLabelValues("duplicate_binding")))
	require.Equal(t, 1.0, testutil.ToFloat64(p.timeouts.WithLabelValues("failed")))
	require.Equal(t, 3.0, testutil.ToFloat64(p.roundWorkers))
	require.Equal(t, "rota", p.namespace)
}
