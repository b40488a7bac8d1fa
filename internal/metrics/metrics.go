package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleetwatch"

// Metrics groups the service collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	Samples       *prometheus.CounterVec
	BoardsCreated prometheus.Counter
	Transitions   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	SweepRuns     *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	QueueLength   prometheus.Gauge
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Telemetry records processed by ingestion, by result (saved, updated, error).",
		}, []string{"result"}),
		BoardsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boards_created_total",
			Help:      "Boards created on first sight.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Presence state machine transitions by event.",
		}, []string{"event"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handled by the dispatcher, by kind and result.",
		}, []string{"kind", "result"}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Offline sweep ticks by result.",
		}, []string{"result"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one offline sweep tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_queue_length",
			Help:      "Messages waiting in the notification queue.",
		}),
	}

	reg.MustRegister(
		m.Samples,
		m.BoardsCreated,
		m.Transitions,
		m.Notifications,
		m.SweepRuns,
		m.SweepDuration,
		m.QueueLength,
	)
	return m
}

func (m *Metrics) IncSample(result string) {
	if m == nil {
		return
	}
	m.Samples.WithLabelValues(result).Inc()
}

func (m *Metrics) IncBoardCreated() {
	if m == nil {
		return
	}
	m.BoardsCreated.Inc()
}

func (m *Metrics) IncTransition(event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) IncNotification(kind, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

// ObserveSweep records one sweep tick
func (m *Metrics) ObserveSweep(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
	m.SweepDuration.Observe(took.Seconds())
}

func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(n))
}
