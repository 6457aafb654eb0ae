package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeLimited = "limited"
	OutcomeBlocked = "blocked"
)

// Metrics tracks rate limit decisions.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	FallbackTotal prometheus.Counter
}

// New registers rate limit metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers rate limit metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome",
		}, []string{"outcome"}),
		FallbackTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "audiovault_ratelimit_fallback_total",
			Help: "Checks served by the in-memory fallback store",
		}),
	}
}

// IncDecision is a no-op on a nil receiver.
func (m *Metrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.FallbackTotal.Inc()
}
