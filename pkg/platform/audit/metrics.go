package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit recorder. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Recorded        *prometheus.CounterVec
	PersistFailures prometheus.Counter
	Retries         prometheus.Counter
	Redelivered     prometheus.Counter
	Dropped         prometheus.Counter
	QueueDepth      prometheus.Gauge
}

// NewMetrics registers audit metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers audit metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_audit_entries_total",
			Help: "Audit entries appended, by category",
		}, []string{"category"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_audit_persist_failures_total",
			Help: "Synchronous audit appends that failed and were queued for retry",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_audit_retries_total",
			Help: "Retry attempts made by the audit worker",
		}),
		Redelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_audit_redelivered_total",
			Help: "Queued audit entries eventually appended by the worker",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_audit_dropped_total",
			Help: "Audit entries lost because the retry queue was full",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "audiovault_audit_queue_depth",
			Help: "Audit entries waiting in the retry queue",
		}),
	}
}

func (m *Metrics) incRecorded(c Category) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(string(c)).Inc()
}

func (m *Metrics) incPersistFailures() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) incRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) incRedelivered() {
	if m == nil {
		return
	}
	m.Redelivered.Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
