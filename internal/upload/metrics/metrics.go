package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeIssued   = "issued"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics tracks upload grant issuance.
type Metrics struct {
	Grants *prometheus.CounterVec
}

// New registers upload metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers upload metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Grants: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audiovault_upload_grants_total",
			Help: "Upload URL requests by outcome",
		}, []string{"outcome"}),
	}
}

// IncGrant is a no-op on a nil receiver.
func (m *Metrics) IncGrant(outcome string) {
	if m == nil {
		return
	}
	m.Grants.WithLabelValues(outcome).Inc()
}
