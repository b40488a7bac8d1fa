package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncSample("saved")
	m.IncSample("saved")
	m.IncSample("error")
	if got := testutil.ToFloat64(m.Samples.WithLabelValues("saved")); got != 2 {
		t.Fatalf("expected saved counter 2, got %f", got)
	}

	m.IncTransition("power_on")
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("power_on")); got != 1 {
		t.Fatalf("expected power_on transition 1, got %f", got)
	}

	m.SetQueueLength(7)
	if got := testutil.ToFloat64(m.QueueLength); got != 7 {
		t.Fatalf("expected queue gauge 7, got %f", got)
	}

	m.ObserveSweep("ok", 20*time.Millisecond)
	if samples := testutil.CollectAndCount(m.SweepDuration); samples != 1 {
		t.Fatalf("expected sweep histogram to record 1 sample, got %d", samples)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncSample("saved")
	m.IncBoardCreated()
	m.IncTransition("silence")
	m.IncNotification("power_on", "sent")
	m.ObserveSweep("ok", time.Second)
	m.SetQueueLength(1)
}
