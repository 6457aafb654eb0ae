package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for completed runs.
const (
	OutcomeComplete  = "complete"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Metrics provides observability for the registration pipeline. All methods
// are no-ops on a nil receiver.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Outcomes      *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	RiskLevels    *prometheus.CounterVec
	FailClosed    prometheus.Counter
	AuditDeferred prometheus.Counter
	Searches      prometheus.Counter
}

// New registers registration metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers registration metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audiovault_registration_stage_duration_seconds",
			Help:    "Duration of each registration stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"stage"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_registration_outcomes_total",
			Help: "Registration runs by outcome",
		}, []string{"outcome"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_registration_failures_total",
			Help: "Failed registration runs by stage and reason code",
		}, []string{"stage", "code"}),
		RiskLevels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_registration_risk_levels_total",
			Help: "Completed registrations by assessed risk level",
		}, []string{"risk_level"}),
		FailClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_registration_fail_closed_total",
			Help: "Registrations classified through the fail-closed path",
		}),
		AuditDeferred: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_registration_audit_deferred_total",
			Help: "Registrations whose terminal audit entry was queued for retry",
		}),
		Searches: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_registration_media_searches_total",
			Help: "Media searches by patient",
		}),
	}
}

// ObserveStage records the duration of one stage.
// Call with time.Now() at the start of the stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFailure(stage, code string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(stage, code).Inc()
	m.Outcomes.WithLabelValues(OutcomeFailed).Inc()
}

func (m *Metrics) IncRiskLevel(level string) {
	if m == nil {
		return
	}
	m.RiskLevels.WithLabelValues(level).Inc()
}

func (m *Metrics) IncFailClosed() {
	if m == nil {
		return
	}
	m.FailClosed.Inc()
}

func (m *Metrics) IncAuditDeferred() {
	if m == nil {
		return
	}
	m.AuditDeferred.Inc()
}

func (m *Metrics) IncSearch() {
	if m == nil {
		return
	}
	m.Searches.Inc()
}
